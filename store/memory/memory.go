// Package memory provides the in-memory Store used by tests and dev mode.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/notify"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements finance.Store and notify.Store. Records are copied in
// and out so callers never share memory with the store.
type Store struct {
	mu            sync.RWMutex
	contracts     map[generic.ContractID]finance.Contract
	payments      map[generic.PaymentID]finance.Payment
	paymentKeys   map[paymentKey]generic.PaymentID
	rates         map[generic.UserID]finance.RateConfig
	notifications map[generic.NotificationID]notify.Notification
	policies      map[generic.UserID]notify.Policy
	runs          map[generic.RunID]notify.Run
	unavailable   bool
}

// paymentKey is the (contract, reference month) uniqueness key.
type paymentKey struct {
	ContractID generic.ContractID
	Month      string
}

var (
	_ finance.Store = (*Store)(nil)
	_ notify.Store  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		contracts:     make(map[generic.ContractID]finance.Contract),
		payments:      make(map[generic.PaymentID]finance.Payment),
		paymentKeys:   make(map[paymentKey]generic.PaymentID),
		rates:         make(map[generic.UserID]finance.RateConfig),
		notifications: make(map[generic.NotificationID]notify.Notification),
		policies:      make(map[generic.UserID]notify.Policy),
		runs:          make(map[generic.RunID]notify.Run),
	}
}

// SetUnavailable makes every call fail with generic.ErrStoreUnavailable,
// simulating an outage.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// check must be called with the lock held.
func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.unavailable {
		return generic.ErrStoreUnavailable
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

// Reset drops every record.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	fresh := New()
	s.contracts, s.payments, s.paymentKeys = fresh.contracts, fresh.payments, fresh.paymentKeys
	s.rates, s.notifications, s.policies, s.runs = fresh.rates, fresh.notifications, fresh.policies, fresh.runs
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

// CreateContract checks every key first, then writes. All or nothing.
func (s *Store) CreateContract(ctx context.Context, c finance.Contract, schedule []finance.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	if _, ok := s.contracts[c.ID]; ok {
		return fmt.Errorf("contract %s: %w", c.ID, generic.ErrDuplicate)
	}
	seen := make(map[paymentKey]bool, len(schedule))
	for _, p := range schedule {
		k := keyOf(p)
		if _, ok := s.paymentKeys[k]; ok || seen[k] {
			return fmt.Errorf("payment %s/%s: %w", k.ContractID, k.Month, generic.ErrDuplicate)
		}
		if _, ok := s.payments[p.ID]; ok {
			return fmt.Errorf("payment %s: %w", p.ID, generic.ErrDuplicate)
		}
		seen[k] = true
	}

	s.contracts[c.ID] = cloneContract(c)
	for _, p := range schedule {
		s.payments[p.ID] = clonePayment(p)
		s.paymentKeys[keyOf(p)] = p.ID
	}
	return nil
}

func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (finance.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return finance.Contract{}, err
	}
	c, ok := s.contracts[id]
	if !ok {
		return finance.Contract{}, &generic.NotFoundError{Kind: "contract", ID: string(id)}
	}
	return cloneContract(c), nil
}

func (s *Store) UpdateContract(ctx context.Context, c finance.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.contracts[c.ID]; !ok {
		return &generic.NotFoundError{Kind: "contract", ID: string(c.ID)}
	}
	s.contracts[c.ID] = cloneContract(c)
	return nil
}

func (s *Store) ListContracts(ctx context.Context, f finance.ContractFilter) ([]finance.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var result []finance.Contract
	for _, c := range s.contracts {
		if matchContract(c, f) {
			result = append(result, cloneContract(c))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].EndDate.Equal(result[j].EndDate) {
			return result[i].EndDate.Before(result[j].EndDate)
		}
		return result[i].ID < result[j].ID
	})
	lo, hi := f.Page.Window(len(result))
	return result[lo:hi], nil
}

func matchContract(c finance.Contract, f finance.ContractFilter) bool {
	if f.ManagerID != "" && c.ManagerID != f.ManagerID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, c.Status) {
		return false
	}
	if f.EndFrom != nil && c.EndDate.Before(*f.EndFrom) {
		return false
	}
	if f.EndTo != nil && c.EndDate.After(*f.EndTo) {
		return false
	}
	return true
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) GetPayment(ctx context.Context, id generic.PaymentID) (finance.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return finance.Payment{}, err
	}
	p, ok := s.payments[id]
	if !ok {
		return finance.Payment{}, &generic.NotFoundError{Kind: "payment", ID: string(id)}
	}
	return clonePayment(p), nil
}

func (s *Store) ListPayments(ctx context.Context, f finance.PaymentFilter) ([]finance.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	result := s.filterPayments(f)
	lo, hi := f.Page.Window(len(result))
	return result[lo:hi], nil
}

func (s *Store) CountPayments(ctx context.Context, f finance.PaymentFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return len(s.filterPayments(f)), nil
}

func (s *Store) filterPayments(f finance.PaymentFilter) []finance.Payment {
	var result []finance.Payment
	for _, p := range s.payments {
		if f.ContractID != "" && p.ContractID != f.ContractID {
			continue
		}
		if f.ManagerID != "" {
			// A payment whose contract is missing matches no manager.
			c, ok := s.contracts[p.ContractID]
			if !ok || c.ManagerID != f.ManagerID {
				continue
			}
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status) {
			continue
		}
		if f.DueFrom != nil && p.DueDate.Before(*f.DueFrom) {
			continue
		}
		if f.DueTo != nil && p.DueDate.After(*f.DueTo) {
			continue
		}
		result = append(result, clonePayment(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *Store) UpdatePayment(ctx context.Context, p finance.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	old, ok := s.payments[p.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "payment", ID: string(p.ID)}
	}
	if keyOf(old) != keyOf(p) {
		return generic.NewInvalidInput("reference_month", "cannot change contract or reference month of a payment")
	}
	s.payments[p.ID] = clonePayment(p)
	return nil
}

// PutPayment stores a payment as is, bypassing the contract. Tests use it to
// plant dangling records.
func (s *Store) PutPayment(p finance.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = clonePayment(p)
	s.paymentKeys[keyOf(p)] = p.ID
}

func keyOf(p finance.Payment) paymentKey {
	return paymentKey{ContractID: p.ContractID, Month: p.ReferenceMonth.String()}
}

// =============================================================================
// RATES
// =============================================================================

func (s *Store) GetRates(ctx context.Context, user generic.UserID) (finance.RateConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return finance.RateConfig{}, err
	}
	r, ok := s.rates[user]
	if !ok {
		return finance.RateConfig{}, &generic.NotFoundError{Kind: "rates", ID: string(user)}
	}
	return r, nil
}

func (s *Store) UpsertRates(ctx context.Context, r finance.RateConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.rates[r.UserID] = r
	return nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (s *Store) CreateNotification(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, generic.ErrDuplicate)
	}
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id generic.NotificationID) (notify.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return notify.Notification{}, err
	}
	n, ok := s.notifications[id]
	if !ok {
		return notify.Notification{}, &generic.NotFoundError{Kind: "notification", ID: string(id)}
	}
	return cloneNotification(n), nil
}

func (s *Store) ListNotifications(ctx context.Context, f notify.Filter) ([]notify.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	result := s.filterNotifications(f)
	lo, hi := f.Page.Window(len(result))
	return result[lo:hi], nil
}

func (s *Store) CountNotifications(ctx context.Context, f notify.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return len(s.filterNotifications(f)), nil
}

func (s *Store) filterNotifications(f notify.Filter) []notify.Notification {
	var result []notify.Notification
	for _, n := range s.notifications {
		if matchNotification(n, f) {
			result = append(result, cloneNotification(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func matchNotification(n notify.Notification, f notify.Filter) bool {
	switch {
	case f.UserID != "" && n.UserID != f.UserID:
		return false
	case len(f.Categories) > 0 && !slices.Contains(f.Categories, n.Category):
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, n.Status):
		return false
	case slices.Contains(f.ExcludeStatuses, n.Status):
		return false
	case f.ContractID != "" && n.ContractID != f.ContractID:
		return false
	case f.PaymentID != "" && n.PaymentID != f.PaymentID:
		return false
	case f.Sequence > 0 && n.Sequence != f.Sequence:
		return false
	case f.CreatedFrom != nil && n.CreatedAt.Before(*f.CreatedFrom):
		return false
	}
	return true
}

func (s *Store) UpdateNotification(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.notifications[n.ID]; !ok {
		return &generic.NotFoundError{Kind: "notification", ID: string(n.ID)}
	}
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) GetPolicy(ctx context.Context, user generic.UserID) (notify.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return notify.Policy{}, err
	}
	p, ok := s.policies[user]
	if !ok {
		return notify.Policy{}, &generic.NotFoundError{Kind: "policy", ID: string(user)}
	}
	return p, nil
}

func (s *Store) UpsertPolicy(ctx context.Context, p notify.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.policies[p.UserID] = p
	return nil
}

func (s *Store) ListActivePolicies(ctx context.Context) ([]notify.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var result []notify.Policy
	for _, p := range s.policies {
		if p.Enabled {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

// =============================================================================
// SCAN RUNS
// =============================================================================

func (s *Store) BeginRun(ctx context.Context, run notify.Run, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for id, r := range s.runs {
		if r.Status != notify.RunRunning {
			continue
		}
		if r.StartedAt.After(staleBefore) {
			return fmt.Errorf("run %s: %w", id, generic.ErrScanInProgress)
		}
	}
	for id, r := range s.runs {
		if r.Status == notify.RunRunning {
			r.Status = notify.RunFailed
			r.Error = "lease expired"
			s.runs[id] = r
		}
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run notify.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.runs[run.ID]; !ok {
		return &generic.NotFoundError{Kind: "run", ID: string(run.ID)}
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Store) ListRuns(ctx context.Context, page generic.Page) ([]notify.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	result := make([]notify.Run, 0, len(s.runs))
	for _, r := range s.runs {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID > result[j].ID
	})
	lo, hi := page.Window(len(result))
	return result[lo:hi], nil
}

// =============================================================================
// COPIES
// =============================================================================

func cloneContract(c finance.Contract) finance.Contract {
	if c.OwnerID != nil {
		owner := *c.OwnerID
		c.OwnerID = &owner
	}
	if c.Deposit != nil {
		deposit := *c.Deposit
		c.Deposit = &deposit
	}
	return c
}

func clonePayment(p finance.Payment) finance.Payment {
	if p.PaidAmount != nil {
		amount := *p.PaidAmount
		p.PaidAmount = &amount
	}
	if p.PaidDate != nil {
		date := *p.PaidDate
		p.PaidDate = &date
	}
	return p
}

func cloneNotification(n notify.Notification) notify.Notification {
	if n.SentAt != nil {
		at := *n.SentAt
		n.SentAt = &at
	}
	if n.ReadAt != nil {
		at := *n.ReadAt
		n.ReadAt = &at
	}
	if n.Metadata != nil {
		meta := make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			meta[k] = v
		}
		n.Metadata = meta
	}
	return n
}
