/*
Package notify emits deduplicated, capped notifications about rent payments
and expiring contracts, and flushes them to a delivery stub.

KEY CONCEPTS IN THIS FILE (types.go):
  - Notification: one alert for one user, with a closed category/priority/status
  - Policy:       per-user switches, lookahead windows and reminder caps
  - Run:          record of one scan invocation (overlap guard + audit)

NOTIFICATION STATE MACHINE:
  (none) -> pending -> sent -> read
  pending | sent -> cancelled
  There is no way back to pending. Once sent, only read/cancelled remain.

DEDUP KEY:
  (user, payment-or-contract, category). due-soon and contract-expiring allow
  one undismissed (not cancelled) notification per key; overdue and
  overdue-reminder are capped at Policy.MaxReminders per key.

SEE ALSO:
  - pipeline.go: the scan that creates and delivers notifications
  - store.go:    persistence interfaces
*/
package notify

import (
	"time"

	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// ENUMS
// =============================================================================

type Category string

const (
	CategoryDueSoon          Category = "due-soon"
	CategoryOverdue          Category = "overdue"
	CategoryContractExpiring Category = "contract-expiring"
	CategoryOverdueReminder  Category = "overdue-reminder"
)

// Categories lists every category in scan order.
var Categories = []Category{CategoryDueSoon, CategoryOverdue, CategoryContractExpiring, CategoryOverdueReminder}

func (c Category) Valid() bool {
	switch c {
	case CategoryDueSoon, CategoryOverdue, CategoryContractExpiring, CategoryOverdueReminder:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusRead      Status = "read"
	StatusCancelled Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending: {StatusSent, StatusCancelled},
	StatusSent:    {StatusRead, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusRead, StatusCancelled:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// =============================================================================
// NOTIFICATION
// =============================================================================

type Notification struct {
	ID         generic.NotificationID
	Category   Category
	Title      string
	Body       string
	Priority   Priority
	UserID     generic.UserID
	ContractID generic.ContractID // empty when not about a contract
	PaymentID  generic.PaymentID  // empty when not about a payment
	Sequence   int                // overdue-reminder number (1-based), 0 otherwise
	Status     Status
	CreatedAt  time.Time
	SentAt     *time.Time
	ReadAt     *time.Time
	Metadata   map[string]string // numbers that produced the message, for audit
}

// Transition moves n to next, stamping SentAt/ReadAt.
func (n *Notification) Transition(next Status, at time.Time) error {
	if !n.Status.CanTransitionTo(next) {
		return &generic.TransitionError{Kind: "notification", From: string(n.Status), To: string(next)}
	}
	n.Status = next
	switch next {
	case StatusSent:
		n.SentAt = &at
	case StatusRead:
		n.ReadAt = &at
	}
	return nil
}

// =============================================================================
// POLICY
// =============================================================================

const (
	DefaultDaysBeforeDue         = 3
	DefaultReminderIntervalDays  = 7
	DefaultMaxReminders          = 3
	DefaultDaysBeforeContractEnd = 30
)

// Policy is a user's notification preferences.
type Policy struct {
	UserID                 generic.UserID `validate:"required"`
	Enabled                bool
	NotifyDueSoon          bool
	NotifyOverdue          bool
	NotifyContractExpiring bool
	DaysBeforeDue          int `validate:"gte=0,lte=90"`
	ReminderIntervalDays   int `validate:"gte=1,lte=90"`
	MaxReminders           int `validate:"gte=0,lte=50"`
	DaysBeforeContractEnd  int `validate:"gte=0,lte=365"`
	UpdatedAt              time.Time
}

// DefaultPolicy is what a user gets on first access.
func DefaultPolicy(user generic.UserID) Policy {
	return Policy{
		UserID:                 user,
		Enabled:                true,
		NotifyDueSoon:          true,
		NotifyOverdue:          true,
		NotifyContractExpiring: true,
		DaysBeforeDue:          DefaultDaysBeforeDue,
		ReminderIntervalDays:   DefaultReminderIntervalDays,
		MaxReminders:           DefaultMaxReminders,
		DaysBeforeContractEnd:  DefaultDaysBeforeContractEnd,
	}
}

func (p Policy) Validate() error {
	return generic.ValidateStruct(p)
}

// =============================================================================
// SCAN RUN
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run records one scan invocation. A running record is the lease that keeps
// two scans from overlapping.
type Run struct {
	ID            generic.RunID
	ReferenceDate generic.Date
	Status        RunStatus
	StartedAt     time.Time
	FinishedAt    *time.Time
	Created       int
	Delivered     int
	Errors        int
	Error         string
}
