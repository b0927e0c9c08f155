package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service interface {
	// Cancel ends a paid subscription and records what is owed back.
	Cancel(ctx context.Context, req CancelRequest) (*CancellationRecord, error)
	// SettleRefund pays out a cancellation obligation through the gateway,
	// or records a manual payout.
	SettleRefund(ctx context.Context, req SettleRequest) (*RefundRecord, error)
	// PendingRefunds lists cancellation obligations not yet settled.
	PendingRefunds(ctx context.Context, limit int) ([]paymentdomain.Transaction, error)

	// OpenObligations records inside tx what is owed back for sub, one
	// obligation per payment that funded it, newest payment first. Any part
	// no payment covers gets an obligation without a parent payment.
	OpenObligations(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, owed decimal.Decimal, reason string) ([]paymentdomain.Transaction, error)
	// RefundPurchase records inside tx that all of purchase is owed back.
	RefundPurchase(ctx context.Context, tx *gorm.DB, purchase *paymentdomain.Transaction, reason string) (*paymentdomain.Transaction, error)
}

type CancelRequest struct {
	SubscriptionID snowflake.ID
	// TenantID scopes the lookup when set.
	TenantID snowflake.ID
	Reason   string
}

type CancellationRecord struct {
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
	// Transaction is the first of Obligations.
	Transaction *paymentdomain.Transaction  `json:"transaction"`
	Obligations []paymentdomain.Transaction `json:"obligations"`
	Refundable  decimal.Decimal             `json:"refundable"`
	// AlreadyCancelled is set when an earlier call cancelled the row.
	AlreadyCancelled bool `json:"already_cancelled"`
}

type SettleRequest struct {
	TransactionID snowflake.ID
	OperatorNotes string
	// Manual records a payout made outside the gateway.
	Manual bool
}

type RefundRecord struct {
	Cancellation   *paymentdomain.Transaction `json:"cancellation"`
	Refund         *paymentdomain.Transaction `json:"refund"`
	AlreadySettled bool                       `json:"already_settled"`
}

var (
	ErrNotCancellable          = errors.New("subscription_not_cancellable")
	ErrNotRefundObligation     = errors.New("not_refund_obligation")
	ErrNothingToRefund         = errors.New("nothing_to_refund")
	ErrRefundInProgress        = errors.New("refund_in_progress")
	ErrOriginalPaymentNotFound = errors.New("original_payment_not_found")
	ErrRefundExceedsPayment    = errors.New("refund_exceeds_payment")
)
