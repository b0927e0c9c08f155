package proration

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// currentPeriod is a 30 day period with the given number of days left.
func currentPeriod(amount string, remaining int) *Period {
	end := now.AddDate(0, 0, remaining)
	return &Period{Start: end.AddDate(0, 0, -30), End: end, AmountPaid: d(amount)}
}

func TestDayCounting(t *testing.T) {
	assert.Equal(t, 1, TotalDays(now, now))
	assert.Equal(t, 1, TotalDays(now, now.Add(2*time.Hour)))
	assert.Equal(t, 30, TotalDays(now, now.AddDate(0, 0, 30)))
	assert.Equal(t, 0, RemainingDays(now.Add(-time.Hour), now))
	assert.Equal(t, 1, RemainingDays(now.Add(time.Minute), now))
	assert.Equal(t, 10, RemainingDays(now.AddDate(0, 0, 10), now))
}

func TestExistingModeConvertsCreditToDays(t *testing.T) {
	calc, err := Calculate(Input{
		Mode:        ModeExisting,
		TargetPrice: d("3000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     currentPeriod("1000", 10),
	})
	require.NoError(t, err)

	assert.True(t, d("333.33").Equal(calc.Credit), calc.Credit.String())
	assert.Equal(t, 4, calc.ConvertedDays)
	assert.True(t, calc.AmountPayable.IsZero())
	assert.True(t, calc.StartDate.Equal(now))
	assert.True(t, calc.EndDate.Equal(now.AddDate(0, 0, 4)))
}

func TestImmediateModeDiscountsCredit(t *testing.T) {
	calc, err := Calculate(Input{
		Mode:        ModeImmediate,
		TargetPrice: d("3000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     currentPeriod("1000", 10),
	})
	require.NoError(t, err)

	assert.True(t, d("2666.67").Equal(calc.AmountPayable), calc.AmountPayable.String())
	assert.True(t, d("333.33").Equal(calc.Discount))
	assert.True(t, calc.EndDate.Equal(now.AddDate(0, 0, 30)))
}

func TestImmediateModeNeverNegative(t *testing.T) {
	calc, err := Calculate(Input{
		Mode:        ModeImmediate,
		TargetPrice: d("100"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     currentPeriod("9000", 29),
	})
	require.NoError(t, err)
	assert.True(t, calc.AmountPayable.IsZero())
}

func TestScheduledWithoutCurrentStartsNow(t *testing.T) {
	calc, err := Calculate(Input{
		Mode:        ModeScheduled,
		TargetPrice: d("3000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
	})
	require.NoError(t, err)
	assert.True(t, d("3000").Equal(calc.AmountPayable))
	assert.True(t, calc.StartDate.Equal(now))
	assert.True(t, calc.EndDate.Equal(now.AddDate(0, 0, 30)))
}

func TestScheduledStartsDayAfterCurrentEnd(t *testing.T) {
	current := currentPeriod("1000", 10)
	calc, err := Calculate(Input{
		Mode:        ModeScheduled,
		TargetPrice: d("30000"),
		CycleDays:   AnnualCycleDays,
		Now:         now,
		Current:     current,
	})
	require.NoError(t, err)
	assert.True(t, calc.StartDate.Equal(current.End.AddDate(0, 0, 1)))
	assert.True(t, calc.EndDate.Equal(calc.StartDate.AddDate(0, 0, 365)))
	assert.True(t, calc.Credit.IsZero())
}

func TestScheduledDowngradeGuard(t *testing.T) {
	scheduled := &Period{Start: now.AddDate(0, 0, 11), End: now.AddDate(0, 0, 41), AmountPaid: d("3000")}

	_, err := Calculate(Input{
		Mode:        ModeScheduled,
		TargetPrice: d("1000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     currentPeriod("1000", 10),
		Scheduled:   scheduled,
	})
	var rejected *DowngradeRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.True(t, d("1000").Equal(rejected.NewPrice))
	assert.True(t, d("3000").Equal(rejected.ExistingCredit))

	_, err = Calculate(Input{
		Mode:        ModeScheduled,
		TargetPrice: d("3000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Scheduled:   scheduled,
	})
	require.True(t, errors.As(err, &rejected), "equal price is not an upgrade")

	calc, err := Calculate(Input{
		Mode:        ModeScheduled,
		TargetPrice: d("9000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     currentPeriod("1000", 10),
		Scheduled:   scheduled,
	})
	require.NoError(t, err)
	assert.True(t, d("6000").Equal(calc.AmountPayable))
	assert.True(t, d("3000").Equal(calc.CarriedCredit))
}

func TestExistingInsufficientCredit(t *testing.T) {
	_, err := Calculate(Input{
		Mode:        ModeExisting,
		TargetPrice: d("9000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     currentPeriod("1000", 2),
	})
	var insufficient *InsufficientCreditError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, d("66.67").Equal(insufficient.Credit))
	assert.True(t, d("300").Equal(insufficient.Required))
	assert.True(t, d("233.33").Equal(insufficient.Shortfall))
}

func TestCreditJustBelowOneDayIsInsufficient(t *testing.T) {
	_, err := CreditToDays(d("33.33"), d("1000"), MonthlyCycleDays)
	var insufficient *InsufficientCreditError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, d("33.33").Equal(insufficient.Required), insufficient.Required.String())
	assert.True(t, d("0").Equal(insufficient.Shortfall), insufficient.Shortfall.String())

	days, err := CreditToDays(d("33.34"), d("1000"), MonthlyCycleDays)
	require.NoError(t, err)
	assert.Equal(t, 2, days)
}

func TestTrialYieldsNoCredit(t *testing.T) {
	trial := currentPeriod("0", 7)
	trial.Trial = true

	_, err := Calculate(Input{
		Mode:        ModeExisting,
		TargetPrice: d("1000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     trial,
		Baseline:    Baseline{Amount: d("999"), PeriodDays: 30},
	})
	var insufficient *InsufficientCreditError
	require.True(t, errors.As(err, &insufficient))
}

func TestZeroAmountPaidRowUsesBaseline(t *testing.T) {
	calc, err := Calculate(Input{
		Mode:        ModeImmediate,
		TargetPrice: d("3000"),
		CycleDays:   MonthlyCycleDays,
		Now:         now,
		Current:     currentPeriod("0", 10),
		Baseline:    Baseline{Amount: d("900"), PeriodDays: 30},
	})
	require.NoError(t, err)
	assert.True(t, calc.BaselineUsed)
	assert.True(t, d("300").Equal(calc.Credit))
	assert.True(t, d("2700").Equal(calc.AmountPayable))
}

func TestCreditRoundTripWithinOneDay(t *testing.T) {
	prices := []string{"999", "1000", "2999.99", "3000", "12000"}
	for _, price := range prices {
		for remaining := 1; remaining <= 30; remaining++ {
			credit, _, _, _, _ := RemainingCredit(currentPeriod(price, remaining), now, Baseline{})
			days, err := CreditToDays(credit, d(price), MonthlyCycleDays)
			if remaining == 1 && err != nil {
				// A single day rounded down to the cent buys less than a day.
				var insufficient *InsufficientCreditError
				require.ErrorAs(t, err, &insufficient)
				continue
			}
			require.NoError(t, err)
			diff := days - remaining
			require.LessOrEqualf(t, diff*diff, 1, "price=%s remaining=%d days=%d", price, remaining, days)
		}
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Immediate ")
	require.NoError(t, err)
	assert.Equal(t, ModeImmediate, m)

	_, err = ParseMode("later")
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = Calculate(Input{Mode: "later"})
	require.ErrorIs(t, err, ErrInvalidMode)
}
