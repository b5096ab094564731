package finance

import (
	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// PAYMENT STATE RESOLVER
// =============================================================================

// Resolution is the state a payment should be in at a reference date.
type Resolution struct {
	PaymentID generic.PaymentID
	AsOf      generic.Date
	Status    PaymentStatus
	DaysLate  int
	Accrual   Accrual
}

// Changed reports whether applying the resolution would modify p.
func (r Resolution) Changed(p Payment) bool {
	return r.Status != p.Status ||
		!r.Accrual.Interest.Equal(p.Interest) ||
		!r.Accrual.Penalty.Equal(p.Penalty)
}

// Apply returns p with the resolved status and accrual.
func (r Resolution) Apply(p Payment) Payment {
	p.Status = r.Status
	p.Interest = r.Accrual.Interest
	p.Penalty = r.Accrual.Penalty
	return p
}

// Resolve decides whether p is pending or overdue at asOf and how much is owed.
//
//   - paid / cancelled: frozen, returned as stored
//   - asOf on or before the due date: pending, nothing accrued
//   - asOf after the due date: overdue; accrual follows ComputeAccrual, which
//     is zero inside the grace period
func Resolve(p Payment, rates RateConfig, asOf generic.Date) (Resolution, error) {
	res := Resolution{PaymentID: p.ID, AsOf: asOf}

	if !p.Status.Open() {
		res.Status = p.Status
		res.Accrual = Accrual{Interest: p.Interest, Penalty: p.Penalty, Total: p.AmountOwed()}
		return res, nil
	}

	daysLate := p.DaysLate(asOf)
	if daysLate == 0 {
		res.Status = PaymentPending
		res.Accrual = Accrual{Interest: decimal.Zero, Penalty: decimal.Zero, Total: p.Amount}
		return res, nil
	}

	accrual, err := ComputeAccrualWith(p.Amount, daysLate, rates)
	if err != nil {
		return Resolution{}, err
	}
	res.Status = PaymentOverdue
	res.DaysLate = daysLate
	res.Accrual = accrual
	return res, nil
}

// MarkPaid registers a payment. Accrual is cleared: a paid installment
// carries no interest or penalty and never accrues again.
func MarkPaid(p Payment, amount decimal.Decimal, paidOn generic.Date) (Payment, error) {
	if !amount.IsPositive() {
		return Payment{}, generic.NewInvalidInput("paid_amount", "must be greater than zero")
	}
	if paidOn.IsZero() {
		return Payment{}, generic.NewInvalidInput("paid_date", "required")
	}
	if !p.Status.CanTransitionTo(PaymentPaid) || p.Status == PaymentPaid {
		return Payment{}, &generic.TransitionError{Kind: "payment", From: string(p.Status), To: string(PaymentPaid)}
	}
	p.Status = PaymentPaid
	p.PaidAmount = &amount
	p.PaidDate = &paidOn
	p.Interest = decimal.Zero
	p.Penalty = decimal.Zero
	return p, nil
}
