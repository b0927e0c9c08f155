package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "Trial"
	SubscriptionStatusActive    SubscriptionStatus = "Active"
	SubscriptionStatusScheduled SubscriptionStatus = "Scheduled"
	SubscriptionStatusExpired   SubscriptionStatus = "Expired"
	SubscriptionStatusCancelled SubscriptionStatus = "Cancelled"
)

// PermanentCancellationMarker is stamped on a subscription once its refund
// has been settled.
const PermanentCancellationMarker = "PERMANENTLY CANCELLED - DO NOT REACTIVATE"

type Subscription struct {
	ID                   snowflake.ID            `gorm:"primaryKey" json:"id"`
	TenantID             snowflake.ID            `gorm:"not null;index:idx_subscriptions_tenant_status,priority:1" json:"tenant_id"`
	PlanID               snowflake.ID            `gorm:"not null" json:"plan_id"`
	BillingCycle         plandomain.BillingCycle `gorm:"not null" json:"billing_cycle"`
	Amount               decimal.Decimal         `gorm:"type:numeric(12,2);not null" json:"amount"`
	StartDate            time.Time               `gorm:"not null" json:"start_date"`
	EndDate              time.Time               `gorm:"not null" json:"end_date"`
	Status               SubscriptionStatus      `gorm:"not null;index:idx_subscriptions_tenant_status,priority:2" json:"status"`
	CancellationReason   *string                 `json:"cancellation_reason,omitempty"`
	PaymentTransactionID *snowflake.ID           `json:"payment_transaction_id,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Entitled reports whether the row grants plan access at now.
func (s Subscription) Entitled(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrial:
		return !now.Before(s.StartDate) && now.Before(s.EndDate)
	}
	return false
}

// Period exposes the row to the proration calculator.
func (s Subscription) Period() *proration.Period {
	return &proration.Period{
		Start:      s.StartDate,
		End:        s.EndDate,
		AmountPaid: s.Amount,
		Trial:      s.Status == SubscriptionStatusTrial,
	}
}

func (s Subscription) Reason() string {
	if s.CancellationReason == nil {
		return ""
	}
	return *s.CancellationReason
}
