package proration

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	day = 24 * time.Hour

	MonthlyCycleDays = 30
	AnnualCycleDays  = 365
)

// Period is the paid span of a subscription row.
type Period struct {
	Start      time.Time
	End        time.Time
	AmountPaid decimal.Decimal
	// Trial periods never yield credit.
	Trial bool
}

// Baseline prices a paid period whose recorded amount is zero.
type Baseline struct {
	Amount     decimal.Decimal
	PeriodDays int
}

// Input describes one purchase to price.
type Input struct {
	Mode        Mode
	TargetPrice decimal.Decimal
	CycleDays   int
	Now         time.Time

	// Current is the entitled period, if any.
	Current *Period
	// Scheduled is the already paid queued period, if any.
	Scheduled *Period

	Baseline Baseline
}

// Calculation is the priced outcome of an Input. Nothing is mutated.
type Calculation struct {
	Mode Mode `json:"mode"`

	TotalDays     int             `json:"total_days"`
	RemainingDays int             `json:"remaining_days"`
	PerDayRate    decimal.Decimal `json:"per_day_rate"`
	Credit        decimal.Decimal `json:"credit"`
	CarriedCredit decimal.Decimal `json:"carried_credit"`
	BaselineUsed  bool            `json:"baseline_used"`

	TargetPrice   decimal.Decimal `json:"target_price"`
	AmountPayable decimal.Decimal `json:"amount_payable"`
	Discount      decimal.Decimal `json:"discount"`
	ConvertedDays int             `json:"converted_days,omitempty"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// TotalDays counts whole days in [start, end), rounding a partial day up and
// never returning less than one.
func TotalDays(start, end time.Time) int {
	return max(1, ceilDays(end.Sub(start)))
}

// RemainingDays counts whole days left until end, rounding a partial day up.
func RemainingDays(end, now time.Time) int {
	return max(0, ceilDays(end.Sub(now)))
}

func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(day)))
}

// PerDayRate returns the unrounded daily price of a period.
func PerDayRate(amount decimal.Decimal, totalDays int) decimal.Decimal {
	if totalDays <= 0 {
		totalDays = 1
	}
	return amount.Div(decimal.NewFromInt(int64(totalDays)))
}

// RemainingCredit is the unconsumed value of p at now, rounded to cents. The
// boolean reports whether the baseline rate was substituted.
func RemainingCredit(p *Period, now time.Time, baseline Baseline) (decimal.Decimal, decimal.Decimal, int, int, bool) {
	if p == nil || p.Trial {
		return decimal.Zero, decimal.Zero, 0, 0, false
	}

	total := TotalDays(p.Start, p.End)
	remaining := RemainingDays(p.End, now)

	rate := PerDayRate(p.AmountPaid, total)
	usedBaseline := false
	if p.AmountPaid.IsZero() && baseline.Amount.IsPositive() && baseline.PeriodDays > 0 {
		// Compatibility: earlier prorations stored paid rows with a zero
		// amount. Those are priced at the configured baseline rate.
		rate = PerDayRate(baseline.Amount, baseline.PeriodDays)
		usedBaseline = true
	}

	credit := rate.Mul(decimal.NewFromInt(int64(remaining))).Round(2)
	return credit, rate, total, remaining, usedBaseline
}

// CreditToDays converts credit into whole days at the target plan's daily
// price, rounding up. Credit below one day's price is an error.
func CreditToDays(credit, targetPrice decimal.Decimal, cycleDays int) (int, error) {
	if cycleDays <= 0 {
		cycleDays = MonthlyCycleDays
	}
	cycle := decimal.NewFromInt(int64(cycleDays))
	minimum := targetPrice.Div(cycle)
	if credit.LessThan(minimum) {
		return 0, &InsufficientCreditError{
			Credit:    credit,
			Required:  minimum.Round(2),
			Shortfall: minimum.Sub(credit).Round(2),
		}
	}
	if !targetPrice.IsPositive() {
		return cycleDays, nil
	}
	days := credit.Mul(cycle).Div(targetPrice).Ceil()
	return int(days.IntPart()), nil
}

// Payable is price less credit, floored at zero.
func Payable(price, credit decimal.Decimal) decimal.Decimal {
	out := price.Sub(credit)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out.Round(2)
}

// Calculate prices in according to its mode.
func Calculate(in Input) (Calculation, error) {
	if !in.Mode.Valid() {
		return Calculation{}, ErrInvalidMode
	}
	cycleDays := in.CycleDays
	if cycleDays <= 0 {
		cycleDays = MonthlyCycleDays
	}

	credit, rate, total, remaining, usedBaseline := RemainingCredit(in.Current, in.Now, in.Baseline)
	calc := Calculation{
		Mode:          in.Mode,
		TotalDays:     total,
		RemainingDays: remaining,
		PerDayRate:    rate.Round(2),
		Credit:        credit,
		CarriedCredit: decimal.Zero,
		BaselineUsed:  usedBaseline,
		TargetPrice:   in.TargetPrice,
	}

	switch in.Mode {
	case ModeExisting:
		return calculateExisting(in, calc, cycleDays)
	case ModeImmediate:
		return calculateImmediate(in, calc, cycleDays), nil
	case ModeScheduled:
		return calculateScheduled(in, calc, cycleDays)
	}
	return Calculation{}, ErrInvalidMode
}

func calculateExisting(in Input, calc Calculation, cycleDays int) (Calculation, error) {
	days, err := CreditToDays(calc.Credit, in.TargetPrice, cycleDays)
	if err != nil {
		return Calculation{}, err
	}
	calc.ConvertedDays = days
	calc.AmountPayable = decimal.Zero
	calc.Discount = calc.Credit
	calc.StartDate = in.Now
	calc.EndDate = in.Now.AddDate(0, 0, days)
	return calc, nil
}

func calculateImmediate(in Input, calc Calculation, cycleDays int) Calculation {
	calc.AmountPayable = Payable(in.TargetPrice, calc.Credit)
	calc.Discount = in.TargetPrice.Sub(calc.AmountPayable)
	calc.StartDate = in.Now
	calc.EndDate = in.Now.AddDate(0, 0, cycleDays)
	return calc
}

func calculateScheduled(in Input, calc Calculation, cycleDays int) (Calculation, error) {
	// Scheduled purchases pay full price; current credit stays with the
	// current period.
	calc.Credit = decimal.Zero
	calc.AmountPayable = in.TargetPrice.Round(2)

	if in.Scheduled != nil {
		carried := in.Scheduled.AmountPaid
		if !in.TargetPrice.GreaterThan(carried) {
			return Calculation{}, &DowngradeRejectedError{
				NewPrice:       in.TargetPrice,
				ExistingCredit: carried,
			}
		}
		calc.CarriedCredit = carried
		calc.AmountPayable = in.TargetPrice.Sub(carried).Round(2)
	}
	calc.Discount = in.TargetPrice.Sub(calc.AmountPayable)

	start := in.Now
	if in.Current != nil && in.Current.End.After(in.Now) {
		start = in.Current.End.AddDate(0, 0, 1)
	}
	calc.StartDate = start
	calc.EndDate = start.AddDate(0, 0, cycleDays)
	return calc, nil
}
