/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP surface. Domain types stay free of json tags; the
  conversions live here.

NAMING CONVENTION:
  - *DTO:     response types returned to clients
  - *Request: request body types from clients

MONEY AND DATES:
  Money travels as decimal strings ("1542.50"), dates as "YYYY-MM-DD".
  Rates are fractions ("0.01" = 1%).

VALIDATION:
  Request types carry validator/v10 tags, checked by decode() in handlers.go.
  Domain invariants (start < end, rate bounds) are checked again by the
  finance and notify packages.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/notify"
)

// =============================================================================
// CONTRACTS
// =============================================================================

type CreateContractRequest struct {
	ID         string           `json:"id"`
	PropertyID string           `json:"property_id" validate:"required"`
	TenantID   string           `json:"tenant_id" validate:"required"`
	OwnerID    string           `json:"owner_id"`
	ManagerID  string           `json:"manager_id" validate:"required"`
	RentAmount decimal.Decimal  `json:"rent_amount"`
	Deposit    *decimal.Decimal `json:"deposit"`
	StartDate  generic.Date     `json:"start_date"`
	EndDate    generic.Date     `json:"end_date"`
	DueDay     int              `json:"due_day" validate:"min=1,max=31"`
	Notes      string           `json:"notes"`
}

func (r CreateContractRequest) toContract() finance.Contract {
	c := finance.Contract{
		ID:         generic.ContractID(r.ID),
		PropertyID: generic.PropertyID(r.PropertyID),
		TenantID:   generic.TenantID(r.TenantID),
		ManagerID:  generic.UserID(r.ManagerID),
		RentAmount: r.RentAmount,
		Deposit:    r.Deposit,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		DueDay:     r.DueDay,
		Notes:      r.Notes,
	}
	if r.OwnerID != "" {
		owner := generic.OwnerID(r.OwnerID)
		c.OwnerID = &owner
	}
	return c
}

type ContractDTO struct {
	ID         string       `json:"id"`
	PropertyID string       `json:"property_id"`
	TenantID   string       `json:"tenant_id"`
	OwnerID    *string      `json:"owner_id,omitempty"`
	ManagerID  string       `json:"manager_id"`
	RentAmount string       `json:"rent_amount"`
	Deposit    *string      `json:"deposit,omitempty"`
	StartDate  generic.Date `json:"start_date"`
	EndDate    generic.Date `json:"end_date"`
	DueDay     int          `json:"due_day"`
	Status     string       `json:"status"`
	Notes      string       `json:"notes,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Payments   []PaymentDTO `json:"payments,omitempty"`
}

func toContractDTO(c finance.Contract) ContractDTO {
	dto := ContractDTO{
		ID:         string(c.ID),
		PropertyID: string(c.PropertyID),
		TenantID:   string(c.TenantID),
		ManagerID:  string(c.ManagerID),
		RentAmount: c.RentAmount.StringFixed(2),
		StartDate:  c.StartDate,
		EndDate:    c.EndDate,
		DueDay:     c.DueDay,
		Status:     string(c.Status),
		Notes:      c.Notes,
		CreatedAt:  c.CreatedAt,
	}
	if c.OwnerID != nil {
		owner := string(*c.OwnerID)
		dto.OwnerID = &owner
	}
	if c.Deposit != nil {
		deposit := c.Deposit.StringFixed(2)
		dto.Deposit = &deposit
	}
	return dto
}

type CloseContractRequest struct {
	ClosedOn *generic.Date `json:"closed_on"` // defaults to today
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID             string        `json:"id"`
	ContractID     string        `json:"contract_id"`
	ReferenceMonth string        `json:"reference_month"` // YYYY-MM
	Amount         string        `json:"amount"`
	DueDate        generic.Date  `json:"due_date"`
	PaidAmount     *string       `json:"paid_amount,omitempty"`
	PaidDate       *generic.Date `json:"paid_date,omitempty"`
	Interest       string        `json:"interest"`
	Penalty        string        `json:"penalty"`
	AmountOwed     string        `json:"amount_owed"`
	Status         string        `json:"status"`
}

func toPaymentDTO(p finance.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:             string(p.ID),
		ContractID:     string(p.ContractID),
		ReferenceMonth: p.ReferenceMonth.Time.Format("2006-01"),
		Amount:         p.Amount.StringFixed(2),
		DueDate:        p.DueDate,
		PaidDate:       p.PaidDate,
		Interest:       p.Interest.StringFixed(2),
		Penalty:        p.Penalty.StringFixed(2),
		AmountOwed:     p.AmountOwed().StringFixed(2),
		Status:         string(p.Status),
	}
	if p.PaidAmount != nil {
		paid := p.PaidAmount.StringFixed(2)
		dto.PaidAmount = &paid
	}
	return dto
}

func toPaymentDTOs(payments []finance.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

type RegisterPaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	PaidDate *generic.Date   `json:"paid_date"` // defaults to today
}

// AccrualDTO is the current state of one payment at a date.
type AccrualDTO struct {
	PaymentID string       `json:"payment_id"`
	AsOf      generic.Date `json:"as_of"`
	Status    string       `json:"status"`
	DaysLate  int          `json:"days_late"`
	Interest  string       `json:"interest"`
	Penalty   string       `json:"penalty"`
	Total     string       `json:"total"`
}

func toAccrualDTO(r finance.Resolution) AccrualDTO {
	return AccrualDTO{
		PaymentID: string(r.PaymentID),
		AsOf:      r.AsOf,
		Status:    string(r.Status),
		DaysLate:  r.DaysLate,
		Interest:  r.Accrual.Interest.StringFixed(2),
		Penalty:   r.Accrual.Penalty.StringFixed(2),
		Total:     r.Accrual.Total.StringFixed(2),
	}
}

// =============================================================================
// RATES
// =============================================================================

type RatesDTO struct {
	UserID              string          `json:"user_id"`
	MonthlyInterestRate decimal.Decimal `json:"monthly_interest_rate"`
	PenaltyRate         decimal.Decimal `json:"penalty_rate"`
	GraceDays           int             `json:"grace_days" validate:"min=0,max=30"`
	CommissionRate      decimal.Decimal `json:"commission_rate"`
}

func toRatesDTO(r finance.RateConfig) RatesDTO {
	return RatesDTO{
		UserID:              string(r.UserID),
		MonthlyInterestRate: r.MonthlyInterestRate,
		PenaltyRate:         r.PenaltyRate,
		GraceDays:           r.GraceDays,
		CommissionRate:      r.CommissionRate,
	}
}

func (r RatesDTO) toRateConfig(user generic.UserID) finance.RateConfig {
	return finance.RateConfig{
		UserID:              user,
		MonthlyInterestRate: r.MonthlyInterestRate,
		PenaltyRate:         r.PenaltyRate,
		GraceDays:           r.GraceDays,
		CommissionRate:      r.CommissionRate,
	}
}

// =============================================================================
// PROFITABILITY
// =============================================================================

type ProfitabilityRequest struct {
	Revenues []decimal.Decimal `json:"revenues"`
	Expenses []decimal.Decimal `json:"expenses"`
}

type ProfitabilityDTO struct {
	Gross         string `json:"gross"`
	Net           string `json:"net"`
	MarginPercent string `json:"margin_percent"`
}

func toProfitabilityDTO(p finance.Profitability) ProfitabilityDTO {
	return ProfitabilityDTO{
		Gross:         p.Gross.StringFixed(2),
		Net:           p.Net.StringFixed(2),
		MarginPercent: p.MarginPercent.StringFixed(2),
	}
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type PolicyDTO struct {
	UserID                 string `json:"user_id"`
	Enabled                bool   `json:"enabled"`
	NotifyDueSoon          bool   `json:"notify_due_soon"`
	NotifyOverdue          bool   `json:"notify_overdue"`
	NotifyContractExpiring bool   `json:"notify_contract_expiring"`
	DaysBeforeDue          int    `json:"days_before_due"`
	ReminderIntervalDays   int    `json:"reminder_interval_days"`
	MaxReminders           int    `json:"max_reminders"`
	DaysBeforeContractEnd  int    `json:"days_before_contract_end"`
}

func toPolicyDTO(p notify.Policy) PolicyDTO {
	return PolicyDTO{
		UserID:                 string(p.UserID),
		Enabled:                p.Enabled,
		NotifyDueSoon:          p.NotifyDueSoon,
		NotifyOverdue:          p.NotifyOverdue,
		NotifyContractExpiring: p.NotifyContractExpiring,
		DaysBeforeDue:          p.DaysBeforeDue,
		ReminderIntervalDays:   p.ReminderIntervalDays,
		MaxReminders:           p.MaxReminders,
		DaysBeforeContractEnd:  p.DaysBeforeContractEnd,
	}
}

func (p PolicyDTO) toPolicy(user generic.UserID) notify.Policy {
	return notify.Policy{
		UserID:                 user,
		Enabled:                p.Enabled,
		NotifyDueSoon:          p.NotifyDueSoon,
		NotifyOverdue:          p.NotifyOverdue,
		NotifyContractExpiring: p.NotifyContractExpiring,
		DaysBeforeDue:          p.DaysBeforeDue,
		ReminderIntervalDays:   p.ReminderIntervalDays,
		MaxReminders:           p.MaxReminders,
		DaysBeforeContractEnd:  p.DaysBeforeContractEnd,
	}
}

type NotificationDTO struct {
	ID         string            `json:"id"`
	Category   string            `json:"category"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Priority   string            `json:"priority"`
	UserID     string            `json:"user_id"`
	ContractID string            `json:"contract_id,omitempty"`
	PaymentID  string            `json:"payment_id,omitempty"`
	Sequence   int               `json:"sequence,omitempty"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func toNotificationDTO(n notify.Notification) NotificationDTO {
	return NotificationDTO{
		ID:         string(n.ID),
		Category:   string(n.Category),
		Title:      n.Title,
		Body:       n.Body,
		Priority:   string(n.Priority),
		UserID:     string(n.UserID),
		ContractID: string(n.ContractID),
		PaymentID:  string(n.PaymentID),
		Sequence:   n.Sequence,
		Status:     string(n.Status),
		CreatedAt:  n.CreatedAt,
		SentAt:     n.SentAt,
		ReadAt:     n.ReadAt,
		Metadata:   n.Metadata,
	}
}

type MarkReadRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type RunDTO struct {
	ID            string       `json:"id"`
	ReferenceDate generic.Date `json:"reference_date"`
	Status        string       `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Created       int          `json:"created"`
	Delivered     int          `json:"delivered"`
	Errors        int          `json:"errors"`
	Error         string       `json:"error,omitempty"`
}

func toRunDTO(r notify.Run) RunDTO {
	return RunDTO{
		ID:            string(r.ID),
		ReferenceDate: r.ReferenceDate,
		Status:        string(r.Status),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Created:       r.Created,
		Delivered:     r.Delivered,
		Errors:        r.Errors,
		Error:         r.Error,
	}
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
