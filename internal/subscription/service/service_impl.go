package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/observability"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepBatchSize = 500

	reasonPeriodEnded = "period ended"
	reasonSuperseded  = "superseded by scheduled plan"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	planRepo plandomain.Repository
	metrics  *observability.Metrics

	trialDays     int
	trialPlanCode string
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     domain.Repository
	PlanRepo plandomain.Repository
	Metrics  *observability.Metrics `optional:"true"`
}

func NewService(p ServiceParam) domain.Service {
	trialDays := p.Config.Billing.TrialDays
	if trialDays <= 0 {
		trialDays = 14
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		planRepo: p.PlanRepo,
		metrics:  p.Metrics,

		trialDays:     trialDays,
		trialPlanCode: p.Config.Billing.TrialPlanCode,
	}
}

func (s *Service) StartTrial(ctx context.Context, tenantID snowflake.ID) (*domain.Subscription, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}

	var created *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByTenantAndStatus(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrTrialAlreadyStarted
		}

		plan, err := s.trialPlan(ctx, tx)
		if err != nil {
			return err
		}

		now := s.clock.Now(ctx)
		sub := &domain.Subscription{
			ID:           s.genID.Generate(),
			TenantID:     tenantID,
			PlanID:       plan.ID,
			BillingCycle: plandomain.CycleMonthly,
			Amount:       decimal.Zero,
			StartDate:    now,
			EndDate:      now.AddDate(0, 0, s.trialDays),
			Status:       domain.SubscriptionStatusTrial,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			if db.IsDuplicateKey(err) {
				return domain.ErrTrialAlreadyStarted
			}
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("trial started",
		zap.String("tenant_id", tenantID.String()),
		zap.String("subscription_id", created.ID.String()),
		zap.Time("end_date", created.EndDate),
	)
	return created, nil
}

func (s *Service) trialPlan(ctx context.Context, tx *gorm.DB) (*plandomain.Plan, error) {
	if s.trialPlanCode != "" {
		plan, err := s.planRepo.FindByCode(ctx, tx, s.trialPlanCode)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, plandomain.ErrPlanNotFound
		}
		return plan, nil
	}

	plans, err := s.planRepo.List(ctx, tx, false)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, plandomain.ErrPlanNotFound
	}
	return &plans[0], nil
}

func (s *Service) Current(ctx context.Context, tenantID snowflake.ID) (*domain.Subscription, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}

	var state domain.State
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		state, err = s.Settle(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if state.Current == nil {
		return nil, domain.ErrNoActiveSubscription
	}
	return state.Current, nil
}

func (s *Service) History(ctx context.Context, tenantID snowflake.ID) ([]domain.Subscription, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	return s.repo.ListByTenant(ctx, s.db, tenantID)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	if id == 0 {
		return nil, domain.ErrInvalidSubscription
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return item, nil
}

func (s *Service) Settle(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (domain.State, error) {
	state, result, err := s.settle(ctx, tx, tenantID)
	if err != nil {
		return domain.State{}, err
	}
	s.metrics.Expired(result.Expired)
	s.metrics.Promoted(result.Promoted)
	return state, nil
}

// settle expires the entitled row once its end has passed and promotes a due
// Scheduled row. Both go through conditional updates, so concurrent callers
// apply each change once.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (domain.State, domain.SweepResult, error) {
	var result domain.SweepResult
	now := s.clock.Now(ctx)

	current, err := s.repo.FindByTenantAndStatus(ctx, tx, tenantID,
		domain.SubscriptionStatusActive, domain.SubscriptionStatusTrial)
	if err != nil {
		return domain.State{}, result, err
	}
	if current != nil && !now.Before(current.EndDate) {
		if err := s.expire(ctx, tx, current, reasonPeriodEnded, &result); err != nil {
			return domain.State{}, result, err
		}
		current = nil
	}

	scheduled, err := s.repo.FindByTenantAndStatus(ctx, tx, tenantID, domain.SubscriptionStatusScheduled)
	if err != nil {
		return domain.State{}, result, err
	}
	if scheduled != nil && !now.Before(scheduled.StartDate) {
		if current != nil {
			if err := s.expire(ctx, tx, current, reasonSuperseded, &result); err != nil {
				return domain.State{}, result, err
			}
		}

		affected, err := s.repo.UpdateStatus(ctx, tx, scheduled.ID,
			[]domain.SubscriptionStatus{domain.SubscriptionStatusScheduled},
			domain.SubscriptionStatusActive, nil)
		if err != nil {
			return domain.State{}, result, err
		}
		if affected == 1 {
			result.Promoted++
			scheduled.Status = domain.SubscriptionStatusActive
			s.log.Info("scheduled subscription promoted",
				zap.String("tenant_id", tenantID.String()),
				zap.String("subscription_id", scheduled.ID.String()),
			)
		}
		current, scheduled = scheduled, nil

		if !now.Before(current.EndDate) {
			if err := s.expire(ctx, tx, current, reasonPeriodEnded, &result); err != nil {
				return domain.State{}, result, err
			}
			current = nil
		}
	}

	return domain.State{Current: current, Scheduled: scheduled}, result, nil
}

func (s *Service) expire(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, reason string, result *domain.SweepResult) error {
	err := s.Transition(ctx, tx, sub, domain.SubscriptionStatusExpired, reason)
	if errors.Is(err, domain.ErrStaleSubscription) {
		return nil
	}
	if err != nil {
		return err
	}
	result.Expired++
	return nil
}

func (s *Service) Transition(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, target domain.SubscriptionStatus, reason string) error {
	if sub == nil {
		return domain.ErrInvalidSubscription
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return domain.ErrSubscriptionTerminal
	}
	if !domain.IsTransitionAllowed(sub.Status, target) {
		return domain.ErrInvalidTransition
	}

	now := s.clock.Now(ctx)
	fields := map[string]any{}
	if reason != "" {
		fields["cancellation_reason"] = reason
	}

	endDate := sub.EndDate
	if isClosing(target) && isEntitling(sub.Status) && now.Before(sub.EndDate) {
		endDate = now
		fields["end_date"] = endDate
	}

	affected, err := s.repo.UpdateStatus(ctx, tx, sub.ID, []domain.SubscriptionStatus{sub.Status}, target, fields)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrStaleSubscription
	}

	s.log.Debug("subscription transitioned",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("from", string(sub.Status)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
	)

	sub.Status = target
	sub.EndDate = endDate
	sub.UpdatedAt = now
	if reason != "" {
		r := reason
		sub.CancellationReason = &r
	}
	return nil
}

func (s *Service) Reschedule(ctx context.Context, tx *gorm.DB, sub *domain.Subscription, start time.Time) error {
	if sub == nil {
		return domain.ErrInvalidSubscription
	}
	if sub.Status != domain.SubscriptionStatusScheduled {
		return domain.ErrInvalidTransition
	}
	end := start.Add(sub.EndDate.Sub(sub.StartDate))
	affected, err := s.repo.Reschedule(ctx, tx, sub.ID, start, end)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrStaleSubscription
	}

	s.log.Info("scheduled subscription moved",
		zap.String("subscription_id", sub.ID.String()),
		zap.Time("from", sub.StartDate),
		zap.Time("to", start),
	)
	sub.StartDate = start
	sub.EndDate = end
	return nil
}

func isClosing(status domain.SubscriptionStatus) bool {
	return status == domain.SubscriptionStatusExpired || status == domain.SubscriptionStatusCancelled
}

func isEntitling(status domain.SubscriptionStatus) bool {
	return status == domain.SubscriptionStatusActive || status == domain.SubscriptionStatusTrial
}

// SweepDue settles every tenant with a row that is due to expire or start.
// Each tenant is settled in its own transaction.
func (s *Service) SweepDue(ctx context.Context) (domain.SweepResult, error) {
	now := s.clock.Now(ctx)

	expiring, err := s.repo.ListExpiring(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return domain.SweepResult{}, err
	}
	promotable, err := s.repo.ListPromotable(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return domain.SweepResult{}, err
	}

	seen := make(map[snowflake.ID]struct{}, len(expiring)+len(promotable))
	tenants := make([]snowflake.ID, 0, len(expiring)+len(promotable))
	for _, list := range [][]domain.Subscription{expiring, promotable} {
		for _, sub := range list {
			if _, ok := seen[sub.TenantID]; ok {
				continue
			}
			seen[sub.TenantID] = struct{}{}
			tenants = append(tenants, sub.TenantID)
		}
	}

	var total domain.SweepResult
	for _, tenantID := range tenants {
		var result domain.SweepResult
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			_, result, err = s.settle(ctx, tx, tenantID)
			return err
		})
		if err != nil {
			s.log.Error("sweep tenant failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
			continue
		}
		total.Expired += result.Expired
		total.Promoted += result.Promoted
	}

	s.metrics.Expired(total.Expired)
	s.metrics.Promoted(total.Promoted)
	if total.Expired > 0 || total.Promoted > 0 {
		s.log.Info("subscription sweep completed",
			zap.Int("tenants", len(tenants)),
			zap.Int("expired", total.Expired),
			zap.Int("promoted", total.Promoted),
		)
	}
	return total, nil
}
