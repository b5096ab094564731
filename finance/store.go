package finance

import (
	"context"

	"github.com/warp/rent-engine/generic"
)

// =============================================================================
// STORE - What the finance package needs from persistence
// =============================================================================

// ContractFilter selects contracts. Zero fields are ignored.
type ContractFilter struct {
	ManagerID generic.UserID
	Statuses  []ContractStatus
	EndFrom   *generic.Date // EndDate >= EndFrom
	EndTo     *generic.Date // EndDate <= EndTo
	Page      generic.Page
}

// PaymentFilter selects payments. Results are ordered by due date, then ID.
type PaymentFilter struct {
	ContractID generic.ContractID
	ManagerID  generic.UserID // payments of contracts managed by this user
	Statuses   []PaymentStatus
	DueFrom    *generic.Date // DueDate >= DueFrom
	DueTo      *generic.Date // DueDate <= DueTo
	Page       generic.Page
}

type ContractStore interface {
	// CreateContract persists a contract and its schedule atomically.
	// Either all rows are written or none. Returns generic.ErrDuplicate when
	// the contract ID or a (contract, reference month) pair exists.
	CreateContract(ctx context.Context, c Contract, schedule []Payment) error

	// GetContract returns generic.ErrNotFound when the ID is unknown.
	GetContract(ctx context.Context, id generic.ContractID) (Contract, error)

	UpdateContract(ctx context.Context, c Contract) error

	// ListContracts is ordered by end date, then ID.
	ListContracts(ctx context.Context, f ContractFilter) ([]Contract, error)
}

type PaymentStore interface {
	GetPayment(ctx context.Context, id generic.PaymentID) (Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
	CountPayments(ctx context.Context, f PaymentFilter) (int, error)
	UpdatePayment(ctx context.Context, p Payment) error
}

type RateStore interface {
	// GetRates returns generic.ErrNotFound when the user has no stored rates.
	GetRates(ctx context.Context, user generic.UserID) (RateConfig, error)

	// UpsertRates inserts or replaces the user's rates (unique key: user).
	UpsertRates(ctx context.Context, r RateConfig) error
}

// Store is everything the finance Service consumes.
type Store interface {
	ContractStore
	PaymentStore
	RateStore
}
