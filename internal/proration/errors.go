package proration

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientCreditError is returned when the remaining credit does not buy
// a single day on the target plan.
type InsufficientCreditError struct {
	Credit    decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient_credit: credit %s below one day %s (short %s)",
		e.Credit.StringFixed(2), e.Required.StringFixed(2), e.Shortfall.StringFixed(2))
}

// DowngradeRejectedError is returned when a new scheduled purchase does not
// exceed what was already paid for the queued one.
type DowngradeRejectedError struct {
	NewPrice       decimal.Decimal
	ExistingCredit decimal.Decimal
}

func (e *DowngradeRejectedError) Error() string {
	return fmt.Sprintf("downgrade_rejected: new price %s does not exceed scheduled credit %s",
		e.NewPrice.StringFixed(2), e.ExistingCredit.StringFixed(2))
}
