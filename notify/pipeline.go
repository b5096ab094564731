/*
pipeline.go - Notification scan pipeline

PURPOSE:
  One recurring batch job that turns the current payment and contract
  population into notifications, then hands pending notifications to the
  delivery stub. Safe to re-run: every step checks for an existing
  notification before creating one.

RUN ORDER:
  0. refresh   bring payment statuses and accruals up to date
  1. due-soon            (per user with NotifyDueSoon)
  2. overdue             (per user with NotifyOverdue)
  3. contract-expiring   (per user with NotifyContractExpiring)
  4. overdue-reminder    (per user with NotifyOverdue)
  5. delivery flush      (every pending notification, oldest first)

FAILURE MODEL:
  - A single bad record (dangling contract, failed delivery) is recorded in
    the Summary and skipped. The next run picks it up again.
  - An unreachable store aborts the run. The returned Summary shows no
    progress and the error is returned.

OVERLAP:
  Two guards. An in-process TryLock rejects a second RunScan on the same
  Pipeline. A running Run record in the store rejects a scan from another
  process until it finishes or its lease goes stale.

SEE ALSO:
  - scans.go:   the four scan steps
  - summary.go: what a run reports
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
	"golang.org/x/time/rate"
)

// Config tunes a Pipeline. Zero values fall back to DefaultConfig.
type Config struct {
	BatchSize       int           // notifications per delivery flush
	StoreTimeout    time.Duration // per store call
	DeliveryTimeout time.Duration // per MarkDelivered call
	DeliveryRate    rate.Limit    // deliveries per second
	DeliveryBurst   int
	ReminderCatchUp bool          // fire a missed cadence reminder on the next run
	RunLease        time.Duration // a running Run older than this is considered dead
}

func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		StoreTimeout:    10 * time.Second,
		DeliveryTimeout: 5 * time.Second,
		DeliveryRate:    20,
		DeliveryBurst:   5,
		RunLease:        30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.DeliveryRate <= 0 {
		c.DeliveryRate = d.DeliveryRate
	}
	if c.DeliveryBurst <= 0 {
		c.DeliveryBurst = d.DeliveryBurst
	}
	if c.RunLease <= 0 {
		c.RunLease = d.RunLease
	}
	return c
}

// Pipeline runs notification scans. Create with NewPipeline.
type Pipeline struct {
	store     Store
	records   Records
	accruals  AccrualRefresher // optional
	deliverer Deliverer
	cfg       Config
	limiter   *rate.Limiter
	now       func() time.Time
	log       logrus.FieldLogger

	mu sync.Mutex // held for the duration of a run
}

func NewPipeline(store Store, records Records, accruals AccrualRefresher, deliverer Deliverer, cfg Config, log logrus.FieldLogger) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		store:     store,
		records:   records,
		accruals:  accruals,
		deliverer: deliverer,
		cfg:       cfg,
		limiter:   rate.NewLimiter(cfg.DeliveryRate, cfg.DeliveryBurst),
		now:       time.Now,
		log:       log,
	}
}

// WithClock replaces the wall clock. Notification and run timestamps come
// from it; the reference date defaults to its current day.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// =============================================================================
// RUN
// =============================================================================

// RunScan executes one full scan. ref overrides the reference date (today by
// default), which lets an operator re-run a missed day.
func (p *Pipeline) RunScan(ctx context.Context, ref *generic.Date) (Summary, error) {
	if !p.mu.TryLock() {
		return Summary{}, generic.ErrScanInProgress
	}
	defer p.mu.Unlock()

	started := p.now().UTC()
	today := generic.DateOf(started)
	if ref != nil {
		today = *ref
	}
	runID := generic.RunID(generic.NewID())
	log := p.log.WithFields(logrus.Fields{
		"run_id":         runID,
		"reference_date": today.String(),
	})

	if err := p.ping(ctx); err != nil {
		log.WithError(err).Error("scan aborted: store unreachable")
		return newSummary(runID, today, started), err
	}

	run := Run{ID: runID, ReferenceDate: today, Status: RunRunning, StartedAt: started}
	if err := p.beginRun(ctx, run, started); err != nil {
		log.WithError(err).Warn("scan not started")
		return newSummary(runID, today, started), err
	}

	sum := newSummary(runID, today, started)
	err := p.scan(ctx, today, &sum, log)
	sum.FinishedAt = p.now().UTC()
	p.finishRun(ctx, run, sum, err, log)

	if err != nil {
		log.WithError(err).WithField("created_before_abort", sum.TotalCreated()).Error("scan aborted")
		aborted := newSummary(runID, today, started)
		aborted.FinishedAt = sum.FinishedAt
		return aborted, err
	}

	log.WithFields(logrus.Fields{
		"refreshed": sum.Refreshed,
		"created":   sum.TotalCreated(),
		"skipped":   sum.Skipped,
		"delivered": sum.Delivered,
		"errors":    len(sum.Errors),
		"duration":  sum.FinishedAt.Sub(started).String(),
	}).Info("scan completed")
	return sum, nil
}

func (p *Pipeline) scan(ctx context.Context, today generic.Date, sum *Summary, log logrus.FieldLogger) error {
	if p.accruals != nil {
		res, err := p.accruals.RefreshAccruals(ctx, today)
		if err != nil {
			if abortsRun(err) {
				return fmt.Errorf("refresh accruals: %w", err)
			}
			sum.fail(StepRefresh, "", "", err)
		}
		sum.Refreshed = res.Updated
		for _, f := range res.Failures {
			sum.fail(StepRefresh, "", f.ID, f.Err)
		}
	}

	callCtx, cancel := p.storeCall(ctx)
	policies, err := p.store.ListActivePolicies(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("list active policies: %w", err)
	}
	usable := policies[:0]
	for _, pol := range policies {
		// Rows can reach the store without SavePolicy. A bad one only costs its user.
		if err := pol.Validate(); err != nil {
			sum.fail(StepPolicy, pol.UserID, "", err)
			continue
		}
		usable = append(usable, pol)
	}
	policies = usable

	s := &scan{
		p:         p,
		today:     today,
		sum:       sum,
		contracts: make(map[generic.ContractID]contractLookup),
		log:       log,
	}
	for _, step := range s.steps() {
		for _, pol := range policies {
			if !step.enabled(pol) {
				continue
			}
			if err := step.run(ctx, pol); err != nil {
				if abortsRun(err) {
					return fmt.Errorf("%s scan for %s: %w", step.name, pol.UserID, err)
				}
				sum.fail(step.name, pol.UserID, "", err)
			}
		}
	}

	return p.flush(ctx, sum, log)
}

// abortsRun reports whether err means the run cannot make progress.
func abortsRun(err error) bool {
	return generic.IsSystemic(err) || errors.Is(err, context.Canceled)
}

func (p *Pipeline) storeCall(ctx context.Context) (context.Context, context.CancelFunc) {
	return generic.WithTimeout(ctx, p.cfg.StoreTimeout)
}

func (p *Pipeline) ping(ctx context.Context) error {
	callCtx, cancel := p.storeCall(ctx)
	defer cancel()
	if err := p.store.Ping(callCtx); err != nil {
		if errors.Is(err, generic.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", generic.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *Pipeline) beginRun(ctx context.Context, run Run, started time.Time) error {
	callCtx, cancel := p.storeCall(ctx)
	defer cancel()
	return p.store.BeginRun(callCtx, run, started.Add(-p.cfg.RunLease))
}

// finishRun records the outcome even when ctx was cancelled mid-run.
func (p *Pipeline) finishRun(ctx context.Context, run Run, sum Summary, runErr error, log logrus.FieldLogger) {
	finished := sum.FinishedAt
	run.FinishedAt = &finished
	run.Created = sum.TotalCreated()
	run.Delivered = sum.Delivered
	run.Errors = len(sum.Errors)
	run.Status = RunCompleted
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	callCtx, cancel := p.storeCall(context.WithoutCancel(ctx))
	defer cancel()
	if err := p.store.FinishRun(callCtx, run); err != nil {
		log.WithError(err).Warn("could not record scan run outcome")
	}
}

// =============================================================================
// DELIVERY FLUSH
// =============================================================================

func (p *Pipeline) flush(ctx context.Context, sum *Summary, log logrus.FieldLogger) error {
	callCtx, cancel := p.storeCall(ctx)
	pending, err := p.store.ListNotifications(callCtx, Filter{
		Statuses: []Status{StatusPending},
		Page:     generic.Page{Limit: p.cfg.BatchSize},
	})
	cancel()
	if err != nil {
		if abortsRun(err) {
			return fmt.Errorf("list pending notifications: %w", err)
		}
		sum.fail(StepDelivery, "", "", err)
		return nil
	}

	for _, n := range pending {
		if err := p.limiter.Wait(ctx); err != nil {
			// Out of time for this run. The rest stays pending.
			sum.fail(StepDelivery, n.UserID, string(n.ID), err)
			break
		}

		if err := p.deliver(ctx, n.ID); err != nil {
			log.WithError(err).WithField("notification_id", n.ID).Warn("delivery failed, left pending")
			sum.fail(StepDelivery, n.UserID, string(n.ID), err)
			continue
		}

		if err := n.Transition(StatusSent, p.now().UTC()); err != nil {
			sum.fail(StepDelivery, n.UserID, string(n.ID), err)
			continue
		}
		if err := p.update(ctx, n); err != nil {
			if abortsRun(err) {
				return err
			}
			sum.fail(StepDelivery, n.UserID, string(n.ID), err)
			continue
		}
		sum.Delivered++
	}
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, id generic.NotificationID) error {
	callCtx, cancel := generic.WithTimeout(ctx, p.cfg.DeliveryTimeout)
	defer cancel()
	return p.deliverer.MarkDelivered(callCtx, id)
}

func (p *Pipeline) update(ctx context.Context, n Notification) error {
	callCtx, cancel := p.storeCall(ctx)
	defer cancel()
	if err := p.store.UpdateNotification(callCtx, n); err != nil {
		return fmt.Errorf("update notification %s: %w", n.ID, err)
	}
	return nil
}

// =============================================================================
// TRANSITIONS OUTSIDE THE SCAN
// =============================================================================

// CancelForContract cancels every pending or sent notification about the
// contract or its payments. Used when a contract is closed.
func (p *Pipeline) CancelForContract(ctx context.Context, id generic.ContractID) (int, error) {
	callCtx, cancel := p.storeCall(ctx)
	open, err := p.store.ListNotifications(callCtx, Filter{
		ContractID: id,
		Statuses:   []Status{StatusPending, StatusSent},
	})
	cancel()
	if err != nil {
		return 0, fmt.Errorf("list notifications of contract %s: %w", id, err)
	}

	at := p.now().UTC()
	for i, n := range open {
		if err := n.Transition(StatusCancelled, at); err != nil {
			return i, err
		}
		if err := p.update(ctx, n); err != nil {
			return i, err
		}
	}
	p.log.WithFields(logrus.Fields{
		"contract_id": id,
		"cancelled":   len(open),
	}).Info("notifications cancelled")
	return len(open), nil
}

// MarkRead acknowledges a sent notification on behalf of its owner.
// Another user's notification is reported as not found.
func (p *Pipeline) MarkRead(ctx context.Context, id generic.NotificationID, user generic.UserID) (Notification, error) {
	callCtx, cancel := p.storeCall(ctx)
	n, err := p.store.GetNotification(callCtx, id)
	cancel()
	if err != nil {
		return Notification{}, err
	}
	if n.UserID != user {
		return Notification{}, &generic.NotFoundError{Kind: "notification", ID: string(id)}
	}
	if err := n.Transition(StatusRead, p.now().UTC()); err != nil {
		return Notification{}, err
	}
	if err := p.update(ctx, n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// Runs lists recorded scan runs, newest first.
func (p *Pipeline) Runs(ctx context.Context, page generic.Page) ([]Run, error) {
	callCtx, cancel := p.storeCall(ctx)
	defer cancel()
	return p.store.ListRuns(callCtx, page)
}
