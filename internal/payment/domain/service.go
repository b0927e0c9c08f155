package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProvider           = errors.New("invalid_provider")
	ErrProviderNotFound          = errors.New("provider_not_found")
	ErrInvalidSignature          = errors.New("invalid_signature")
	ErrInvalidPayload            = errors.New("invalid_payload")
	ErrInvalidEvent              = errors.New("invalid_event")
	ErrEventIgnored              = errors.New("event_ignored")
	ErrInvalidConfig             = errors.New("invalid_config")
	ErrInvalidAmount             = errors.New("invalid_amount")
	ErrTransactionNotFound       = errors.New("transaction_not_found")
	ErrGatewayUnavailable        = errors.New("gateway_unavailable")
	ErrReconciliationAmbiguous   = errors.New("reconciliation_ambiguous")
	ErrPaymentVerificationFailed = errors.New("payment_verification_failed")

	// ErrConcurrencyLost means another path already applied the payment. It
	// is converted into the winner's result before reaching callers.
	ErrConcurrencyLost = errors.New("concurrency_lost")
)

// VerificationFailedError is returned when a payment proof does not verify.
type VerificationFailedError struct {
	OrderID          string
	RefundWindowDays int
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("payment_verification_failed: order %s could not be verified; any debited amount may be refunded automatically in %d business days",
		e.OrderID, e.RefundWindowDays)
}

func (e *VerificationFailedError) Is(target error) bool {
	return target == ErrPaymentVerificationFailed
}
