package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionTypePayment            TransactionType = "Payment"
	TransactionTypeUpgradeExisting    TransactionType = "Upgrade_existing"
	TransactionTypeUpgradeImmediate   TransactionType = "Upgrade_immediate"
	TransactionTypeUpgradeScheduled   TransactionType = "Upgrade_scheduled"
	TransactionTypeScheduledPayment   TransactionType = "Scheduled Payment"
	TransactionTypeAdminActivation    TransactionType = "Admin Activation"
	TransactionTypeCancellation       TransactionType = "Cancellation"
	TransactionTypeRefund             TransactionType = "Refund"
	TransactionTypeVerificationFailed TransactionType = "Verification Failed"
	TransactionTypePaymentFailure     TransactionType = "Payment Failure"
)

// PurchaseTypes are the transaction types that fund a subscription row.
var PurchaseTypes = []TransactionType{
	TransactionTypePayment,
	TransactionTypeUpgradeExisting,
	TransactionTypeUpgradeImmediate,
	TransactionTypeUpgradeScheduled,
	TransactionTypeScheduledPayment,
	TransactionTypeAdminActivation,
}

func (t TransactionType) IsPurchase() bool {
	for _, p := range PurchaseTypes {
		if p == t {
			return true
		}
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "Pending"
	TransactionStatusAuthorized TransactionStatus = "Authorized"
	TransactionStatusSuccess    TransactionStatus = "Success"
	TransactionStatusFailed     TransactionStatus = "Failed"
	TransactionStatusCancelled  TransactionStatus = "Cancelled"
)

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

type Transaction struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID      `json:"tenant_id" gorm:"not null;index"`
	SubscriptionID *snowflake.ID     `json:"subscription_id,omitempty" gorm:"index"`
	OrderID        *string           `json:"order_id,omitempty" gorm:"index"`
	PaymentID      *string           `json:"payment_id,omitempty"`
	Signature      *string           `json:"-"`
	Amount         decimal.Decimal   `json:"amount" gorm:"type:numeric(12,2);not null"`
	NetAmount      decimal.Decimal   `json:"net_amount" gorm:"type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal   `json:"discount_amount" gorm:"type:numeric(12,2);not null"`
	Currency       string            `json:"currency" gorm:"not null"`
	Type           TransactionType   `json:"type" gorm:"not null"`
	Status         TransactionStatus `json:"status" gorm:"not null"`
	WebhookEventID *string           `json:"webhook_event_id,omitempty"`
	Description    string            `json:"description"`

	PlanID              *snowflake.ID           `json:"plan_id,omitempty"`
	BillingCycle        plandomain.BillingCycle `json:"billing_cycle,omitempty"`
	Mode                proration.Mode          `json:"mode,omitempty"`
	ParentTransactionID *snowflake.ID           `json:"parent_transaction_id,omitempty" gorm:"index"`
	GatewayRefundID     *string                 `json:"gateway_refund_id,omitempty"`

	// CarriedSubscriptionID is the row whose unused credit discounted this
	// purchase.
	CarriedSubscriptionID *snowflake.ID `json:"carried_subscription_id,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// EventRecord is one received webhook delivery. ProviderEventID is unique per
// provider and is the dedup key.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	OrderID         *string        `json:"order_id,omitempty"`
	PaymentID       *string        `json:"payment_id,omitempty"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	Outcome         string         `json:"outcome" gorm:"type:text"`
	Error           *string        `json:"error,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	OutcomeActivated   = "activated"
	OutcomeNoop        = "noop"
	OutcomeAuthorized  = "authorized"
	OutcomeFailed      = "failed"
	OutcomeSelfHealed  = "self_healed"
	OutcomeRejected    = "rejected"
	OutcomeAmbiguous   = "unreconciled"
	OutcomeIgnored     = "ignored"
	OutcomeDuplicate   = "duplicate"
	OutcomeProcessing  = "processing"
	OutcomeErrored     = "error"
	OutcomeUnprocessed = ""
)
