package notify

import (
	"time"

	"github.com/warp/rent-engine/generic"
)

// Step names a stage of the scan. Used to attribute errors in a Summary.
type Step string

const (
	StepRefresh  Step = "refresh"
	StepPolicy   Step = "policy"
	StepDueSoon  Step = "due-soon"
	StepOverdue  Step = "overdue"
	StepExpiring Step = "contract-expiring"
	StepCadence  Step = "overdue-reminder"
	StepDelivery Step = "delivery"
)

// ScanError is a non-fatal failure recorded during a run. The affected
// record is picked up again by the next run.
type ScanError struct {
	Step     Step           `json:"step"`
	UserID   generic.UserID `json:"user_id,omitempty"`
	RecordID string         `json:"record_id,omitempty"`
	Message  string         `json:"message"`
}

// Summary is what RunScan reports to operators.
type Summary struct {
	RunID         generic.RunID    `json:"run_id"`
	ReferenceDate generic.Date     `json:"reference_date"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Refreshed     int              `json:"refreshed"`
	Created       map[Category]int `json:"created"`
	Skipped       int              `json:"skipped"` // suppressed by dedup or cap
	Delivered     int              `json:"delivered"`
	Errors        []ScanError      `json:"errors"`
}

func newSummary(id generic.RunID, ref generic.Date, started time.Time) Summary {
	return Summary{
		RunID:         id,
		ReferenceDate: ref,
		StartedAt:     started,
		Created:       make(map[Category]int, len(Categories)),
		Errors:        []ScanError{},
	}
}

// TotalCreated sums Created over every category.
func (s Summary) TotalCreated() int {
	total := 0
	for _, n := range s.Created {
		total += n
	}
	return total
}

func (s *Summary) fail(step Step, user generic.UserID, record string, err error) {
	s.Errors = append(s.Errors, ScanError{Step: step, UserID: user, RecordID: record, Message: err.Error()})
}
