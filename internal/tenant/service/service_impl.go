package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/clock"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	"github.com/railzwaylabs/crmbilling/internal/tenant/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            domain.Repository
	SubscriptionSvc subscriptiondomain.Service
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	subscriptionSvc subscriptiondomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("tenant.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		subscriptionSvc: p.SubscriptionSvc,
	}
}

func (s *Service) Onboard(ctx context.Context, req domain.OnboardRequest) (*domain.OnboardResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	email, err := normalizeEmail(req.BillingEmail)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	tenant := &domain.Tenant{
		ID:           s.genID.Generate(),
		Name:         name,
		BillingEmail: email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, tenant); err != nil {
		if !db.IsDuplicateKey(err) {
			return nil, err
		}
		existing, findErr := s.repo.FindByBillingEmail(ctx, s.db, email)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		s.log.Info("tenant already onboarded, returning existing", zap.String("tenant_id", existing.ID.String()))
		tenant = existing
	}

	trial, err := s.subscriptionSvc.StartTrial(ctx, tenant.ID)
	switch {
	case errors.Is(err, subscriptiondomain.ErrTrialAlreadyStarted):
		trial, err = s.subscriptionSvc.Current(ctx, tenant.ID)
		if errors.Is(err, subscriptiondomain.ErrNoActiveSubscription) {
			trial, err = nil, nil
		}
	case err != nil:
		s.log.Error("start trial failed", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
	}
	if err != nil {
		return nil, err
	}

	return &domain.OnboardResponse{Tenant: *tenant, Subscription: trial}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrUnknownTenant
	}
	return item, nil
}

func (s *Service) FindByBillingEmail(ctx context.Context, email string) (*domain.Tenant, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindByBillingEmail(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrUnknownTenant
	}
	return item, nil
}

func normalizeEmail(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", domain.ErrInvalidEmail
	}
	return trimmed, nil
}
