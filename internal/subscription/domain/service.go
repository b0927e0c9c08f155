package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	StartTrial(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	// Current applies due expirations and promotions for the tenant, then
	// returns its entitled row.
	Current(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
	History(ctx context.Context, tenantID snowflake.ID) ([]Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)

	// Settle applies due expirations and promotions for one tenant inside tx
	// and returns the entitled and queued rows.
	Settle(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (State, error)
	Transition(ctx context.Context, tx *gorm.DB, sub *Subscription, target SubscriptionStatus, reason string) error
	// Reschedule moves a Scheduled row to begin at start, keeping its length.
	Reschedule(ctx context.Context, tx *gorm.DB, sub *Subscription, start time.Time) error
	SweepDue(ctx context.Context) (SweepResult, error)
}

// State is a tenant's subscription position after due transitions.
type State struct {
	Current   *Subscription
	Scheduled *Subscription
}

type SweepResult struct {
	Expired  int `json:"expired"`
	Promoted int `json:"promoted"`
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrTrialAlreadyStarted  = errors.New("trial_already_started")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrSubscriptionTerminal = errors.New("subscription_terminal")
	ErrStaleSubscription    = errors.New("stale_subscription")
)
