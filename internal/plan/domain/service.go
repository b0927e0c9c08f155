package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	List(ctx context.Context, includeRetired bool) ([]Plan, error)
	Get(ctx context.Context, id snowflake.ID) (*Plan, error)
	// Purchasable returns the plan only when it can be quoted or bought.
	Purchasable(ctx context.Context, id snowflake.ID) (*Plan, error)
	Retire(ctx context.Context, id snowflake.ID) (*Plan, error)
	Activate(ctx context.Context, id snowflake.ID) (*Plan, error)
	// MatchByAmount returns the plan prices within tolerance of amount.
	MatchByAmount(ctx context.Context, amount, tolerance decimal.Decimal) ([]PriceMatch, error)
}

type PriceMatch struct {
	Plan  Plan
	Cycle BillingCycle
	Price decimal.Decimal
}

var (
	ErrInvalidPlan  = errors.New("invalid_plan")
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrPlanRetired  = errors.New("plan_retired")
	ErrInvalidCycle = errors.New("invalid_billing_cycle")
)
