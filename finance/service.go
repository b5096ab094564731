/*
service.go - Contract lifecycle and accrual refresh

PURPOSE:
  Orchestrates the pure functions in accrual.go, schedule.go and
  resolver.go against a Store.

OPERATIONS:
  CreateContract   validate, expand schedule eagerly, persist atomically
  Suspend/Reactivate/CloseContract   status transitions (never deletes)
  RegisterPayment  manual payment -> paid, accrual cleared
  ResolvePayment   current status/amount of one payment at a date
  RefreshAccruals  batch: resolve every open payment due before a date
  Profitability    paid revenue vs. operator commission for one contract

CONCURRENCY:
  RefreshAccruals resolves payments on a bounded worker pool (accrual is
  pure), then writes the changed payments one by one. Writes never run
  concurrently with each other.

RATES:
  Rates are looked up per contract manager. A missing record means "use
  DefaultRates"; any other lookup failure is an error. The two are never
  collapsed.

SEE ALSO:
  - notify/pipeline.go: calls RefreshAccruals before scanning
*/
package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers     = 4
	refreshPageSize    = 500
	defaultCallTimeout = 10 * time.Second
)

// Service is the finance entry point used by the HTTP layer and the scan.
type Service struct {
	Store   Store
	Workers int           // accrual resolution parallelism
	Timeout time.Duration // per store call
	Now     func() time.Time
	Log     logrus.FieldLogger
}

func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{
		Store:   store,
		Workers: defaultWorkers,
		Timeout: defaultCallTimeout,
		Now:     time.Now,
		Log:     log,
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

// CreateContract stores c together with its full monthly schedule.
func (s *Service) CreateContract(ctx context.Context, c Contract) (Contract, []Payment, error) {
	if c.ID == "" {
		c.ID = generic.ContractID(generic.NewID())
	}
	if c.Status == "" {
		c.Status = ContractActive
	}
	now := s.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	if err := c.Validate(); err != nil {
		return Contract{}, nil, err
	}
	schedule, err := GenerateMonthlySchedule(c)
	if err != nil {
		return Contract{}, nil, err
	}
	for i := range schedule {
		schedule[i].ID = generic.PaymentID(generic.NewID())
		schedule[i].CreatedAt, schedule[i].UpdatedAt = now, now
	}

	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Store.CreateContract(callCtx, c, schedule); err != nil {
		return Contract{}, nil, fmt.Errorf("create contract %s: %w", c.ID, err)
	}

	s.Log.WithFields(logrus.Fields{
		"contract_id": c.ID,
		"manager_id":  c.ManagerID,
		"payments":    len(schedule),
	}).Info("contract created")
	return c, schedule, nil
}

func (s *Service) GetContract(ctx context.Context, id generic.ContractID) (Contract, error) {
	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	defer cancel()
	return s.Store.GetContract(callCtx, id)
}

// ListPayments returns a contract's schedule in due-date order.
func (s *Service) ListPayments(ctx context.Context, id generic.ContractID) ([]Payment, error) {
	if _, err := s.GetContract(ctx, id); err != nil {
		return nil, err
	}
	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	defer cancel()
	return s.Store.ListPayments(callCtx, PaymentFilter{ContractID: id})
}

func (s *Service) SuspendContract(ctx context.Context, id generic.ContractID) (Contract, error) {
	return s.transitionContract(ctx, id, ContractSuspended)
}

func (s *Service) ReactivateContract(ctx context.Context, id generic.ContractID) (Contract, error) {
	return s.transitionContract(ctx, id, ContractActive)
}

// CloseContract closes the contract and cancels its pending installments
// falling due after closedOn. Past and overdue installments stay owed.
func (s *Service) CloseContract(ctx context.Context, id generic.ContractID, closedOn generic.Date) (Contract, error) {
	c, err := s.transitionContract(ctx, id, ContractClosed)
	if err != nil {
		return Contract{}, err
	}

	after := closedOn.AddDays(1)
	listCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	future, err := s.Store.ListPayments(listCtx, PaymentFilter{
		ContractID: id,
		Statuses:   []PaymentStatus{PaymentPending},
		DueFrom:    &after,
	})
	cancel()
	if err != nil {
		return c, fmt.Errorf("list future payments of %s: %w", id, err)
	}

	for _, p := range future {
		p.Status = PaymentCancelled
		p.UpdatedAt = s.Now().UTC()
		if err := s.updatePayment(ctx, p); err != nil {
			return c, err
		}
	}

	s.Log.WithFields(logrus.Fields{
		"contract_id": id,
		"cancelled":   len(future),
	}).Info("contract closed")
	return c, nil
}

func (s *Service) transitionContract(ctx context.Context, id generic.ContractID, next ContractStatus) (Contract, error) {
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return Contract{}, err
	}
	if !c.Status.CanTransitionTo(next) {
		return Contract{}, &generic.TransitionError{Kind: "contract", From: string(c.Status), To: string(next)}
	}
	c.Status = next
	c.UpdatedAt = s.Now().UTC()

	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Store.UpdateContract(callCtx, c); err != nil {
		return Contract{}, fmt.Errorf("update contract %s: %w", id, err)
	}
	return c, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RegisterPayment records a manual payment.
func (s *Service) RegisterPayment(ctx context.Context, id generic.PaymentID, amount decimal.Decimal, paidOn generic.Date) (Payment, error) {
	getCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	p, err := s.Store.GetPayment(getCtx, id)
	cancel()
	if err != nil {
		return Payment{}, err
	}

	paid, err := MarkPaid(p, amount, paidOn)
	if err != nil {
		return Payment{}, err
	}
	paid.UpdatedAt = s.Now().UTC()
	if err := s.updatePayment(ctx, paid); err != nil {
		return Payment{}, err
	}
	return paid, nil
}

// ResolvePayment computes the current state of one payment without saving it.
func (s *Service) ResolvePayment(ctx context.Context, id generic.PaymentID, asOf generic.Date) (Resolution, error) {
	getCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	p, err := s.Store.GetPayment(getCtx, id)
	cancel()
	if err != nil {
		return Resolution{}, err
	}
	c, err := s.GetContract(ctx, p.ContractID)
	if err != nil {
		return Resolution{}, err
	}
	rates, err := s.RatesFor(ctx, c.ManagerID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(p, rates, asOf)
}

func (s *Service) updatePayment(ctx context.Context, p Payment) error {
	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Store.UpdatePayment(callCtx, p); err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	return nil
}

// =============================================================================
// RATES
// =============================================================================

// RatesFor returns the user's stored rates, or DefaultRates when none exist.
func (s *Service) RatesFor(ctx context.Context, user generic.UserID) (RateConfig, error) {
	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	defer cancel()
	rates, err := s.Store.GetRates(callCtx, user)
	if errors.Is(err, generic.ErrNotFound) {
		return DefaultRates(user), nil
	}
	if err != nil {
		return RateConfig{}, fmt.Errorf("load rates for %s: %w", user, err)
	}
	return rates, nil
}

// UpdateRates validates and stores a user's rates.
func (s *Service) UpdateRates(ctx context.Context, r RateConfig) (RateConfig, error) {
	if r.UserID == "" {
		return RateConfig{}, generic.NewInvalidInput("user_id", "required")
	}
	if err := r.Validate(); err != nil {
		return RateConfig{}, err
	}
	r.UpdatedAt = s.Now().UTC()
	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Store.UpsertRates(callCtx, r); err != nil {
		return RateConfig{}, fmt.Errorf("store rates for %s: %w", r.UserID, err)
	}
	return r, nil
}

// =============================================================================
// ACCRUAL REFRESH
// =============================================================================

// RefreshResult summarizes one RefreshAccruals call.
type RefreshResult struct {
	Scanned  int
	Updated  int
	Failures []*generic.RecordError
}

// RefreshAccruals resolves every pending/overdue payment due before asOf and
// saves the ones whose status or accrual changed. A payment whose contract
// or rates cannot be resolved is reported and skipped; a systemic store
// failure aborts.
func (s *Service) RefreshAccruals(ctx context.Context, asOf generic.Date) (RefreshResult, error) {
	var result RefreshResult
	dueTo := asOf.AddDays(-1)

	lookups := newRefreshLookups()

	for offset := 0; ; offset += refreshPageSize {
		listCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
		page, err := s.Store.ListPayments(listCtx, PaymentFilter{
			Statuses: []PaymentStatus{PaymentPending, PaymentOverdue},
			DueTo:    &dueTo,
			Page:     generic.Page{Offset: offset, Limit: refreshPageSize},
		})
		cancel()
		if err != nil {
			return result, fmt.Errorf("list open payments: %w", err)
		}
		if len(page) == 0 {
			break
		}
		result.Scanned += len(page)

		pageRates := make([]RateConfig, len(page))
		ready := make([]bool, len(page))
		for i, p := range page {
			r, err := s.ratesForPayment(ctx, p, lookups)
			if err != nil {
				if generic.IsSystemic(err) {
					return result, err
				}
				result.Failures = append(result.Failures, &generic.RecordError{Kind: "payment", ID: string(p.ID), Err: err})
				continue
			}
			pageRates[i] = r
			ready[i] = true
		}

		resolutions, errs := s.resolveAll(ctx, page, pageRates, ready, asOf)
		for i, p := range page {
			if !ready[i] {
				continue
			}
			if errs[i] != nil {
				result.Failures = append(result.Failures, &generic.RecordError{Kind: "payment", ID: string(p.ID), Err: errs[i]})
				continue
			}
			if !resolutions[i].Changed(p) {
				continue
			}
			updated := resolutions[i].Apply(p)
			updated.UpdatedAt = s.Now().UTC()
			if err := s.updatePayment(ctx, updated); err != nil {
				if generic.IsSystemic(err) {
					return result, err
				}
				result.Failures = append(result.Failures, &generic.RecordError{Kind: "payment", ID: string(p.ID), Err: err})
				continue
			}
			result.Updated++
		}

		if len(page) < refreshPageSize {
			break
		}
	}

	s.Log.WithFields(logrus.Fields{
		"as_of":    asOf.String(),
		"scanned":  result.Scanned,
		"updated":  result.Updated,
		"failures": len(result.Failures),
	}).Info("accruals refreshed")
	return result, nil
}

// resolveAll runs Resolve for every ready payment on a bounded pool.
// Each worker writes only its own slot, so no locking is needed.
func (s *Service) resolveAll(ctx context.Context, page []Payment, rates []RateConfig, ready []bool, asOf generic.Date) ([]Resolution, []error) {
	resolutions := make([]Resolution, len(page))
	errs := make([]error, len(page))

	workers := s.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range page {
		if !ready[i] {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			resolutions[i], errs[i] = Resolve(page[i], rates[i], asOf)
			return nil
		})
	}
	_ = g.Wait()
	return resolutions, errs
}

// refreshLookups caches contract and rate lookups for one refresh. Failed
// contract lookups are cached too so a dangling contract costs one query.
type refreshLookups struct {
	contracts map[generic.ContractID]Contract
	missing   map[generic.ContractID]error
	rates     map[generic.UserID]RateConfig
}

func newRefreshLookups() *refreshLookups {
	return &refreshLookups{
		contracts: make(map[generic.ContractID]Contract),
		missing:   make(map[generic.ContractID]error),
		rates:     make(map[generic.UserID]RateConfig),
	}
}

func (s *Service) ratesForPayment(ctx context.Context, p Payment, l *refreshLookups) (RateConfig, error) {
	if err, failed := l.missing[p.ContractID]; failed {
		return RateConfig{}, err
	}
	c, ok := l.contracts[p.ContractID]
	if !ok {
		var err error
		c, err = s.GetContract(ctx, p.ContractID)
		if err != nil {
			err = fmt.Errorf("resolve contract %s: %w", p.ContractID, err)
			if !generic.IsSystemic(err) {
				l.missing[p.ContractID] = err
			}
			return RateConfig{}, err
		}
		l.contracts[p.ContractID] = c
	}
	r, ok := l.rates[c.ManagerID]
	if !ok {
		var err error
		r, err = s.RatesFor(ctx, c.ManagerID)
		if err != nil {
			return RateConfig{}, err
		}
		l.rates[c.ManagerID] = r
	}
	return r, nil
}

// =============================================================================
// PROFITABILITY
// =============================================================================

// Profitability treats paid amounts as revenue and the manager's commission
// on them as expense.
func (s *Service) Profitability(ctx context.Context, id generic.ContractID) (Profitability, error) {
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return Profitability{}, err
	}
	rates, err := s.RatesFor(ctx, c.ManagerID)
	if err != nil {
		return Profitability{}, err
	}

	callCtx, cancel := generic.WithTimeout(ctx, s.Timeout)
	paid, err := s.Store.ListPayments(callCtx, PaymentFilter{ContractID: id, Statuses: []PaymentStatus{PaymentPaid}})
	cancel()
	if err != nil {
		return Profitability{}, fmt.Errorf("list paid payments of %s: %w", id, err)
	}

	var revenues, expenses []decimal.Decimal
	for _, p := range paid {
		if p.PaidAmount == nil {
			continue
		}
		commission, err := CommissionFor(*p.PaidAmount, rates)
		if err != nil {
			return Profitability{}, err
		}
		revenues = append(revenues, *p.PaidAmount)
		expenses = append(expenses, commission)
	}
	return ComputeProfitability(revenues, expenses)
}
