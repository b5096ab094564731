package notify

import (
	"context"
	"time"

	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// STORE - What the notify package needs from persistence
// =============================================================================

// Filter selects notifications. Zero fields are ignored. Results are ordered
// oldest first (CreatedAt, then ID).
type Filter struct {
	UserID          generic.UserID
	Categories      []Category
	Statuses        []Status
	ExcludeStatuses []Status
	ContractID      generic.ContractID
	PaymentID       generic.PaymentID
	Sequence        int        // > 0 matches that reminder number only
	CreatedFrom     *time.Time // CreatedAt >= CreatedFrom
	Page            generic.Page
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) error
	GetNotification(ctx context.Context, id generic.NotificationID) (Notification, error)
	ListNotifications(ctx context.Context, f Filter) ([]Notification, error)
	CountNotifications(ctx context.Context, f Filter) (int, error)
	UpdateNotification(ctx context.Context, n Notification) error
}

type PolicyStore interface {
	// GetPolicy returns generic.ErrNotFound when the user has none.
	GetPolicy(ctx context.Context, user generic.UserID) (Policy, error)

	// UpsertPolicy inserts or replaces the user's policy (unique key: user).
	UpsertPolicy(ctx context.Context, p Policy) error

	// ListActivePolicies returns enabled policies ordered by user.
	ListActivePolicies(ctx context.Context) ([]Policy, error)
}

type RunStore interface {
	// BeginRun inserts a running record unless another run is still running
	// and started after staleBefore, in which case it returns
	// generic.ErrScanInProgress. Stale running records are marked failed.
	BeginRun(ctx context.Context, run Run, staleBefore time.Time) error

	// FinishRun stores the final state of a run.
	FinishRun(ctx context.Context, run Run) error

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, page generic.Page) ([]Run, error)
}

// Store is everything the pipeline writes to.
type Store interface {
	NotificationStore
	PolicyStore
	RunStore
	generic.Pinger
}

// Records is the read side of the finance data the scans look at.
type Records interface {
	GetContract(ctx context.Context, id generic.ContractID) (finance.Contract, error)
	ListContracts(ctx context.Context, f finance.ContractFilter) ([]finance.Contract, error)
	ListPayments(ctx context.Context, f finance.PaymentFilter) ([]finance.Payment, error)
}

// AccrualRefresher brings payment statuses up to date before scanning.
// finance.Service implements it.
type AccrualRefresher interface {
	RefreshAccruals(ctx context.Context, asOf generic.Date) (finance.RefreshResult, error)
}
