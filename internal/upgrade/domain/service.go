package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/internal/proration"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
)

type Service interface {
	// Quote prices a purchase against the tenant's current rows. Only due
	// expirations and promotions are applied.
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	// Checkout opens a gateway order and records the Pending purchase, or
	// activates straight away when nothing is payable.
	Checkout(ctx context.Context, req QuoteRequest) (*CheckoutResult, error)
	// Activate applies a paid (or zero-cost) purchase exactly once.
	Activate(ctx context.Context, req ActivateRequest) (*ActivationResult, error)
	AdminActivate(ctx context.Context, req AdminActivateRequest) (*ActivationResult, error)
}

type QuoteRequest struct {
	TenantID snowflake.ID
	PlanID   snowflake.ID
	Cycle    plandomain.BillingCycle
	Mode     proration.Mode
}

type Quote struct {
	TenantID        snowflake.ID                  `json:"tenant_id"`
	Plan            plandomain.Plan               `json:"plan"`
	Cycle           plandomain.BillingCycle       `json:"billing_cycle"`
	TransactionType paymentdomain.TransactionType `json:"transaction_type"`
	Calculation     proration.Calculation         `json:"calculation"`

	CurrentSubscriptionID   *snowflake.ID `json:"current_subscription_id,omitempty"`
	ScheduledSubscriptionID *snowflake.ID `json:"scheduled_subscription_id,omitempty"`
}

type CheckoutResult struct {
	Quote       Quote                      `json:"quote"`
	Transaction *paymentdomain.Transaction `json:"transaction"`
	// Order is nil when the purchase was activated without payment.
	Order        *paymentdomain.Order             `json:"order,omitempty"`
	Subscription *subscriptiondomain.Subscription `json:"subscription,omitempty"`
}

// PaymentProof identifies the gateway payment that funds an activation.
type PaymentProof struct {
	OrderID        string
	PaymentID      string
	Signature      string
	WebhookEventID string
}

type ActivateRequest struct {
	TenantID snowflake.ID
	// PlanID, Cycle and Mode may be left empty when Proof names an order; the
	// intent recorded at checkout is used instead.
	PlanID snowflake.ID
	Cycle  plandomain.BillingCycle
	Mode   proration.Mode
	Proof  PaymentProof
}

type AdminActivateRequest struct {
	TenantID snowflake.ID
	PlanID   snowflake.ID
	Cycle    plandomain.BillingCycle
	Days     int
	Note     string
}

type ActivationResult struct {
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
	Transaction  *paymentdomain.Transaction       `json:"transaction"`
	// AlreadyApplied is set when the payment had been activated by an
	// earlier call.
	AlreadyApplied bool `json:"already_applied"`
}

// OrderRejectedError reports a paid order that could not be applied. The
// purchase is closed as Failed and its payment is owed back through the
// refund obligation.
type OrderRejectedError struct {
	OrderID            string       `json:"order_id"`
	TransactionID      snowflake.ID `json:"transaction_id"`
	RefundObligationID snowflake.ID `json:"refund_obligation_id"`
	Reason             string       `json:"reason"`
}

func (e *OrderRejectedError) Error() string {
	return ErrOrderRejected.Error() + ": " + e.Reason
}

func (e *OrderRejectedError) Is(target error) bool {
	return target == ErrOrderRejected
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrPaymentRequired    = errors.New("payment_required")
	ErrIntentMismatch     = errors.New("intent_mismatch")
	ErrTransactionClosed  = errors.New("transaction_closed")
	ErrActivationConflict = errors.New("activation_conflict")
	ErrInvalidGrantPeriod = errors.New("invalid_grant_period")
	ErrOrderRejected      = errors.New("order_rejected")
	// ErrCarriedCreditGone means the row whose credit discounted an order is
	// no longer current or queued.
	ErrCarriedCreditGone = errors.New("carried_credit_gone")
)
