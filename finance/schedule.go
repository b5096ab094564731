package finance

import (
	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// MONTHLY SCHEDULE - Contract -> one Payment draft per calendar month
// =============================================================================

// GenerateMonthlySchedule expands a contract into payment drafts, one per
// calendar month from the start month through the end month inclusive.
//
// The due date is the contract's due-day in that month, clamped to the
// month's last day when the day does not exist (due-day 31 in February is
// Feb 28 or 29). Drafts carry no ID; the store assigns one on insert.
//
// The whole schedule is generated eagerly when the contract is created.
func GenerateMonthlySchedule(c Contract) ([]Payment, error) {
	if c.ID == "" {
		return nil, generic.NewInvalidInput("id", "required")
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() || !c.StartDate.Before(c.EndDate) {
		return nil, generic.NewInvalidInput("end_date", "must be strictly after start_date")
	}
	if !c.RentAmount.IsPositive() {
		return nil, generic.NewInvalidInput("rent_amount", "must be greater than zero")
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return nil, generic.NewInvalidInput("due_day", "must be within 1..31")
	}

	months := c.Term().Months()
	drafts := make([]Payment, 0, len(months))
	for _, month := range months {
		drafts = append(drafts, Payment{
			ContractID:     c.ID,
			ReferenceMonth: month,
			Amount:         c.RentAmount,
			DueDate:        generic.ClampedDay(month.Year(), month.Month(), c.DueDay),
			Interest:       decimal.Zero,
			Penalty:        decimal.Zero,
			Status:         PaymentPending,
		})
	}
	return drafts, nil
}
