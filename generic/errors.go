/*
errors.go - Centralized error types for the rent engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR TIERS:
  1. Input errors    - programmer/caller mistakes (negative amounts, bad ranges).
                       Fail fast, never clamped.
  2. Record errors   - one record cannot be processed (dangling reference,
                       failed delivery). Recorded in the run summary, batch continues.
  3. Systemic errors - the data store is unreachable. The whole run aborts.

USAGE:
  if errors.Is(err, generic.ErrNotFound) {
      // fall back to defaults
  }
  if generic.IsSystemic(err) {
      return summary, err // abort the run
  }

SEE ALSO:
  - notify/pipeline.go: applies the tiers during a scan
  - store/sqlstore: maps driver failures onto ErrStoreUnavailable
*/
package generic

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for caller mistakes: negative amounts,
	// malformed date ranges, rates out of bounds.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = fmt.Errorf("%w: end before start", ErrInvalidInput)

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidTransition is returned when a status change is not allowed
	// by the record's state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStoreUnavailable is returned when the data store cannot be reached.
	// Scans abort on this error.
	ErrStoreUnavailable = errors.New("data store unavailable")

	// ErrScanInProgress is returned when another scan run holds the lease.
	ErrScanInProgress = errors.New("scan already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func NewInvalidInput(field, reason string) *InvalidInputError {
	return &InvalidInputError{Field: field, Reason: reason}
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// TransitionError provides details about a rejected status change.
type TransitionError struct {
	Kind string // "payment", "notification", "contract"
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.Kind, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSystemic returns true if the error means the store itself is gone.
// A timed-out store call counts: the run cannot make progress.
func IsSystemic(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
