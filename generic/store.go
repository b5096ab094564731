/*
store.go - Persistence vocabulary shared by every record store

PURPOSE:
  The finance and notify packages each declare the typed store interface
  they consume. This file holds what those interfaces have in common:
  paging, liveness checks and the per-call timeout every store call carries.

CAPABILITIES EXPECTED FROM A STORE:
  - filter by equality (status, user, contract)
  - filter by range (due dates, end dates, creation time)
  - ordered scans with offset/limit
  - upsert by unique key
  - counts

IMPLEMENTATIONS:
  - store/memory:   in-memory, for tests and dev
  - store/sqlstore: SQLite (dev) and PostgreSQL (production)

SEE ALSO:
  - finance/store.go, notify/store.go: the typed interfaces
*/
package generic

import (
	"context"
	"fmt"
	"time"
)

// Page bounds an ordered scan. A zero Limit means no limit.
type Page struct {
	Offset int
	Limit  int
}

// Window applies the page to n items and returns the [lo, hi) slice bounds.
func (p Page) Window(n int) (lo, hi int) {
	lo = p.Offset
	if lo > n {
		lo = n
	}
	hi = n
	if p.Limit > 0 && lo+p.Limit < hi {
		hi = lo + p.Limit
	}
	return lo, hi
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WithTimeout bounds a single store call. A non-positive timeout leaves the
// context untouched.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// RecordError is a per-record failure that must not stop a batch.
type RecordError struct {
	Kind string // "payment", "contract", "notification"
	ID   string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
