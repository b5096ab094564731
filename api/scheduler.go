/*
scheduler.go - Daily notification scan scheduler

PURPOSE:
  Triggers the notification scan on a cron schedule (SCAN_CRON, 06:00 daily
  by default). The scan itself owns idempotence and overlap protection, so
  a tick that lands on a running scan only logs and returns.

DESIGN:
  - robfig/cron drives the ticks; SkipIfStillRunning keeps ticks serial
  - Each tick gets its own timeout context
  - Failures are logged, never fatal; the next tick retries

USAGE:
  sched, err := NewScanScheduler(pipeline, "0 6 * * *", log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - handlers.go: TriggerScan endpoint (manual scan)
  - notify/pipeline.go: RunScan
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/notify"
)

const defaultScanTimeout = 30 * time.Minute

// Scanner is the part of notify.Pipeline the scheduler drives.
type Scanner interface {
	RunScan(ctx context.Context, ref *generic.Date) (notify.Summary, error)
}

// ScanScheduler runs the notification scan on a cron spec.
type ScanScheduler struct {
	Scanner Scanner
	Timeout time.Duration
	Log     logrus.FieldLogger

	cron    *cron.Cron
	entry   cron.EntryID
	mu      sync.Mutex
	started bool
}

// NewScanScheduler parses spec up front so a bad SCAN_CRON fails at startup.
func NewScanScheduler(scanner Scanner, spec string, log logrus.FieldLogger) (*ScanScheduler, error) {
	s := &ScanScheduler{
		Scanner: scanner,
		Timeout: defaultScanTimeout,
		Log:     log,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
	id, err := s.cron.AddFunc(spec, s.RunNow)
	if err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins the scheduler. Calling it twice is a no-op.
func (s *ScanScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.Log.WithField("next_run", s.NextRun()).Info("scan scheduler started")
}

// Stop stops the scheduler and waits for a running scan to finish.
func (s *ScanScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.Log.Info("scan scheduler stopped")
}

// RunNow runs one scan for today.
func (s *ScanScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	sum, err := s.Scanner.RunScan(ctx, nil)
	switch {
	case errors.Is(err, generic.ErrScanInProgress):
		s.Log.Warn("scheduled scan skipped: another scan is running")
	case err != nil:
		s.Log.WithError(err).Error("scheduled scan failed")
	default:
		s.Log.WithFields(logrus.Fields{
			"run_id":    sum.RunID,
			"created":   sum.TotalCreated(),
			"delivered": sum.Delivered,
			"errors":    len(sum.Errors),
		}).Info("scheduled scan completed")
	}
}

// NextRun returns when the next scheduled scan will occur. Zero before Start.
func (s *ScanScheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}
