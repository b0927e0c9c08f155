package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("plan.service"),
		repo: p.Repo,
	}
}

func (s *Service) List(ctx context.Context, includeRetired bool) ([]domain.Plan, error) {
	return s.repo.List(ctx, s.db, includeRetired)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, domain.ErrInvalidPlan
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrPlanNotFound
	}
	return item, nil
}

func (s *Service) Purchasable(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Purchasable() {
		return nil, domain.ErrPlanRetired
	}
	return item, nil
}

func (s *Service) Retire(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	return s.setStatus(ctx, id, domain.StatusRetired)
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	return s.setStatus(ctx, id, domain.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id snowflake.ID, status domain.Status) (*domain.Plan, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == status {
		return item, nil
	}

	if _, err := s.repo.UpdateStatus(ctx, s.db, id, status); err != nil {
		return nil, err
	}
	s.log.Info("plan status changed",
		zap.String("plan_id", id.String()),
		zap.String("code", item.Code),
		zap.String("status", string(status)),
	)
	return s.Get(ctx, id)
}

// MatchByAmount considers only purchasable plans and orders matches by
// closeness to amount.
func (s *Service) MatchByAmount(ctx context.Context, amount, tolerance decimal.Decimal) ([]domain.PriceMatch, error) {
	plans, err := s.repo.List(ctx, s.db, false)
	if err != nil {
		return nil, err
	}

	var matches []domain.PriceMatch
	for _, p := range plans {
		for _, cycle := range []domain.BillingCycle{domain.CycleMonthly, domain.CycleAnnual} {
			price := p.Price(cycle)
			if price.Sub(amount).Abs().LessThanOrEqual(tolerance) {
				matches = append(matches, domain.PriceMatch{Plan: p, Cycle: cycle, Price: price})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Price.Sub(amount).Abs().LessThan(matches[j].Price.Sub(amount).Abs())
	})
	return matches, nil
}
