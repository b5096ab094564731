/*
accrual.go - Interest, penalty and profitability math

PURPOSE:
  Pure functions, no I/O. Safe to call concurrently.

FORMULA (simple daily pro-ration, no compounding):
  daysLate <= graceDays:
    interest = 0, penalty = 0, total = owed
  otherwise:
    penalty  = owed * penaltyRate                     (once, not pro-rated)
    interest = owed * (monthlyRate / 30) * (daysLate - graceDays)
    total    = owed + interest + penalty

  interest and penalty are rounded half-up to cents before they are summed,
  so total is always exactly owed + interest + penalty.

EXAMPLE:
  owed 1500.00, grace 5, monthly 1%, penalty 2%, 30 days late
    penalty  = 30.00
    interest = 1500 * 0.01 / 30 * 25 = 12.50
    total    = 1542.50

SEE ALSO:
  - resolver.go: applies ComputeAccrual to stored payments
*/
package finance

import (
	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/generic"
)

// DaysPerMonth is the divisor turning a monthly rate into a daily one.
var DaysPerMonth = decimal.NewFromInt(30)

// Accrual is the result of ComputeAccrual.
type Accrual struct {
	Interest decimal.Decimal
	Penalty  decimal.Decimal
	Total    decimal.Decimal
}

// ComputeAccrual returns the interest and penalty owed on a late debt.
func ComputeAccrual(owed decimal.Decimal, daysLate int, monthlyInterestRate, penaltyRate decimal.Decimal, graceDays int) (Accrual, error) {
	if !owed.IsPositive() {
		return Accrual{}, generic.NewInvalidInput("owed", "must be greater than zero")
	}
	if daysLate < 0 {
		return Accrual{}, generic.NewInvalidInput("days_late", "must not be negative")
	}
	if monthlyInterestRate.IsNegative() {
		return Accrual{}, generic.NewInvalidInput("monthly_interest_rate", "must not be negative")
	}
	if penaltyRate.IsNegative() {
		return Accrual{}, generic.NewInvalidInput("penalty_rate", "must not be negative")
	}
	if graceDays < 0 {
		return Accrual{}, generic.NewInvalidInput("grace_days", "must not be negative")
	}

	if daysLate <= graceDays {
		return Accrual{Interest: decimal.Zero, Penalty: decimal.Zero, Total: owed}, nil
	}

	beyondGrace := decimal.NewFromInt(int64(daysLate - graceDays))
	penalty := generic.RoundMoney(owed.Mul(penaltyRate))
	// Multiply before dividing so 0.01/30 never gets truncated.
	interest := generic.RoundMoney(owed.Mul(monthlyInterestRate).Mul(beyondGrace).Div(DaysPerMonth))

	return Accrual{
		Interest: interest,
		Penalty:  penalty,
		Total:    owed.Add(interest).Add(penalty),
	}, nil
}

// ComputeAccrualWith is ComputeAccrual driven by a stored RateConfig.
func ComputeAccrualWith(owed decimal.Decimal, daysLate int, rates RateConfig) (Accrual, error) {
	return ComputeAccrual(owed, daysLate, rates.MonthlyInterestRate, rates.PenaltyRate, rates.GraceDays)
}

// =============================================================================
// PROFITABILITY
// =============================================================================

type Profitability struct {
	Gross         decimal.Decimal
	Net           decimal.Decimal
	MarginPercent decimal.Decimal
}

// ComputeProfitability sums revenues and expenses. Zero gross yields a zero
// margin rather than a division error.
func ComputeProfitability(revenues, expenses []decimal.Decimal) (Profitability, error) {
	for _, r := range revenues {
		if r.IsNegative() {
			return Profitability{}, generic.NewInvalidInput("revenues", "must not contain negative values")
		}
	}
	for _, e := range expenses {
		if e.IsNegative() {
			return Profitability{}, generic.NewInvalidInput("expenses", "must not contain negative values")
		}
	}

	gross := generic.Sum(revenues)
	net := gross.Sub(generic.Sum(expenses))
	margin := decimal.Zero
	if gross.IsPositive() {
		margin = net.Div(gross).Mul(generic.Hundred)
	}

	return Profitability{
		Gross:         generic.RoundMoney(gross),
		Net:           generic.RoundMoney(net),
		MarginPercent: generic.RoundMoney(margin),
	}, nil
}

// CommissionFor returns the operator's cut of a collected amount.
func CommissionFor(collected decimal.Decimal, rates RateConfig) (decimal.Decimal, error) {
	if collected.IsNegative() {
		return decimal.Zero, generic.NewInvalidInput("collected", "must not be negative")
	}
	return generic.RoundMoney(collected.Mul(rates.CommissionRate)), nil
}
