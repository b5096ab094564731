/*
Package finance implements rental contracts, their payment schedules and
the interest/penalty accrual applied to overdue payments.

KEY CONCEPTS IN THIS FILE (types.go):
  - Contract:   a lease; expands into one Payment per calendar month
  - Payment:    one monthly installment, accrues once overdue
  - RateConfig: per-operator interest, penalty, grace and commission settings

STATE MACHINES:
  Contract: active <-> suspended, active|suspended -> closed (terminal)
  Payment:  pending -> overdue -> paid
            pending -> paid
            pending|overdue -> cancelled
  paid and cancelled are terminal; a paid payment never accrues again.

SEE ALSO:
  - accrual.go:  pure accrual/profitability math
  - schedule.go: contract -> monthly payment drafts
  - resolver.go: payment + reference date -> current status and amount owed
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// CONTRACT
// =============================================================================

type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractSuspended ContractStatus = "suspended"
	ContractClosed    ContractStatus = "closed"
)

var contractTransitions = map[ContractStatus][]ContractStatus{
	ContractActive:    {ContractSuspended, ContractClosed},
	ContractSuspended: {ContractActive, ContractClosed},
}

func (s ContractStatus) Valid() bool {
	switch s {
	case ContractActive, ContractSuspended, ContractClosed:
		return true
	}
	return false
}

func (s ContractStatus) CanTransitionTo(next ContractStatus) bool {
	return allowed(contractTransitions[s], next)
}

// Contract is a lease agreement. Closing is a status change, never a delete,
// so payments stay attributable.
type Contract struct {
	ID         generic.ContractID
	PropertyID generic.PropertyID
	TenantID   generic.TenantID
	OwnerID    *generic.OwnerID
	ManagerID  generic.UserID // operator who receives notifications for this contract
	RentAmount decimal.Decimal
	Deposit    *decimal.Decimal
	StartDate  generic.Date
	EndDate    generic.Date
	DueDay     int
	Status     ContractStatus
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Term returns the contract's [StartDate, EndDate] period.
func (c Contract) Term() generic.Period {
	return generic.Period{Start: c.StartDate, End: c.EndDate}
}

// Validate checks the invariants every stored contract must hold.
func (c Contract) Validate() error {
	if c.ID == "" {
		return generic.NewInvalidInput("id", "required")
	}
	if c.ManagerID == "" {
		return generic.NewInvalidInput("manager_id", "required")
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return generic.NewInvalidInput("dates", "start and end date are required")
	}
	if !c.StartDate.Before(c.EndDate) {
		return generic.NewInvalidInput("end_date", "must be strictly after start_date")
	}
	if !c.RentAmount.IsPositive() {
		return generic.NewInvalidInput("rent_amount", "must be greater than zero")
	}
	if c.Deposit != nil && c.Deposit.IsNegative() {
		return generic.NewInvalidInput("deposit", "must not be negative")
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return generic.NewInvalidInput("due_day", "must be within 1..31")
	}
	if c.Status != "" && !c.Status.Valid() {
		return generic.NewInvalidInput("status", string(c.Status))
	}
	return nil
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentOverdue   PaymentStatus = "overdue"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentOverdue, PaymentPaid, PaymentCancelled},
	PaymentOverdue: {PaymentPaid, PaymentCancelled},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentOverdue, PaymentPaid, PaymentCancelled:
		return true
	}
	return false
}

// Open reports whether the payment still accrues (pending or overdue).
func (s PaymentStatus) Open() bool {
	return s == PaymentPending || s == PaymentOverdue
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == next || allowed(paymentTransitions[s], next)
}

// Payment is one monthly installment obligation of a contract.
type Payment struct {
	ID             generic.PaymentID
	ContractID     generic.ContractID
	ReferenceMonth generic.Date // first day of the month this installment covers
	Amount         decimal.Decimal
	DueDate        generic.Date
	PaidAmount     *decimal.Decimal
	PaidDate       *generic.Date
	Interest       decimal.Decimal
	Penalty        decimal.Decimal
	Status         PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AmountOwed is the principal plus whatever has accrued so far.
func (p Payment) AmountOwed() decimal.Decimal {
	return p.Amount.Add(p.Interest).Add(p.Penalty)
}

// DaysLate is the number of days past due at asOf, never negative.
func (p Payment) DaysLate(asOf generic.Date) int {
	if !asOf.After(p.DueDate) {
		return 0
	}
	return generic.DaysBetween(p.DueDate, asOf)
}

// =============================================================================
// RATE CONFIGURATION
// =============================================================================

const MaxGraceDays = 30

// RateConfig holds the accrual settings of one operator. All rates are
// fractions: 0.01 means 1%.
type RateConfig struct {
	UserID              generic.UserID
	MonthlyInterestRate decimal.Decimal
	PenaltyRate         decimal.Decimal
	GraceDays           int
	CommissionRate      decimal.Decimal
	UpdatedAt           time.Time
}

// DefaultRates returns the settings used when an operator has none stored.
func DefaultRates(user generic.UserID) RateConfig {
	return RateConfig{
		UserID:              user,
		MonthlyInterestRate: generic.MustParseDecimal("0.01"),
		PenaltyRate:         generic.MustParseDecimal("0.02"),
		GraceDays:           5,
		CommissionRate:      generic.MustParseDecimal("0.10"),
	}
}

// Validate enforces rates in [0,1] and grace in [0,30].
func (r RateConfig) Validate() error {
	checks := []struct {
		field string
		value decimal.Decimal
	}{
		{"monthly_interest_rate", r.MonthlyInterestRate},
		{"penalty_rate", r.PenaltyRate},
		{"commission_rate", r.CommissionRate},
	}
	for _, c := range checks {
		if !generic.InUnitRange(c.value) {
			return generic.NewInvalidInput(c.field, "must be within [0, 1]")
		}
	}
	if r.GraceDays < 0 || r.GraceDays > MaxGraceDays {
		return generic.NewInvalidInput("grace_days", "must be within [0, 30]")
	}
	return nil
}

func allowed[T comparable](options []T, next T) bool {
	for _, o := range options {
		if o == next {
			return true
		}
	}
	return false
}
