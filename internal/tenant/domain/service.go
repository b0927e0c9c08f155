package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
)

type Service interface {
	// Onboard creates the tenant and starts its trial. Repeating it with the
	// same billing email returns the existing tenant.
	Onboard(ctx context.Context, req OnboardRequest) (*OnboardResponse, error)
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	FindByBillingEmail(ctx context.Context, email string) (*Tenant, error)
}

type OnboardRequest struct {
	Name         string `json:"name"`
	BillingEmail string `json:"billing_email"`
}

type OnboardResponse struct {
	Tenant       Tenant                           `json:"tenant"`
	Subscription *subscriptiondomain.Subscription `json:"subscription,omitempty"`
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidEmail  = errors.New("invalid_billing_email")
	ErrInvalidID     = errors.New("invalid_id")
	ErrUnknownTenant = errors.New("unknown_tenant")
)
