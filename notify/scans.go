package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
)

const (
	urgentAfterDaysLate  = 30
	highWithinDaysOfEnd  = 7
	highWithinDaysOfDue  = 1
	referenceMonthLayout = "January 2006"
)

// scan is the state of one run's scan steps. Not shared between runs.
type scan struct {
	p         *Pipeline
	today     generic.Date
	sum       *Summary
	contracts map[generic.ContractID]contractLookup
	log       logrus.FieldLogger
}

// contractLookup caches a contract or the per-record error resolving it.
type contractLookup struct {
	contract finance.Contract
	err      error
}

type scanStep struct {
	name    Step
	enabled func(Policy) bool
	run     func(ctx context.Context, pol Policy) error
}

func (s *scan) steps() []scanStep {
	return []scanStep{
		{StepDueSoon, func(p Policy) bool { return p.NotifyDueSoon }, s.dueSoon},
		{StepOverdue, func(p Policy) bool { return p.NotifyOverdue }, s.overdue},
		{StepExpiring, func(p Policy) bool { return p.NotifyContractExpiring }, s.expiring},
		{StepCadence, func(p Policy) bool { return p.NotifyOverdue }, s.cadence},
	}
}

// =============================================================================
// STEP 1: DUE SOON
// =============================================================================

func (s *scan) dueSoon(ctx context.Context, pol Policy) error {
	window := generic.Lookahead(s.today, pol.DaysBeforeDue)
	payments, err := s.payments(ctx, finance.PaymentFilter{
		ManagerID: pol.UserID,
		Statuses:  []finance.PaymentStatus{finance.PaymentPending},
		DueFrom:   &window.Start,
		DueTo:     &window.End,
	})
	if err != nil {
		return err
	}

	for _, pay := range payments {
		c, ok, err := s.contractFor(ctx, StepDueSoon, pol.UserID, pay)
		if err != nil {
			return err
		}
		if !ok || c.Status != finance.ContractActive {
			continue
		}

		exists, err := s.exists(ctx, Filter{
			UserID:          pol.UserID,
			Categories:      []Category{CategoryDueSoon},
			PaymentID:       pay.ID,
			ExcludeStatuses: []Status{StatusCancelled},
		})
		if err != nil {
			if err := s.skip(StepDueSoon, pol.UserID, string(pay.ID), err); err != nil {
				return err
			}
			continue
		}
		if exists {
			s.sum.Skipped++
			continue
		}

		daysLeft := generic.DaysBetween(s.today, pay.DueDate)
		priority := PriorityMedium
		if daysLeft <= highWithinDaysOfDue {
			priority = PriorityHigh
		}
		n := s.newNotification(pol.UserID, CategoryDueSoon, priority)
		n.ContractID = c.ID
		n.PaymentID = pay.ID
		n.Title = "Rent due soon"
		n.Body = fmt.Sprintf("Rent of %s for %s is due on %s (%s).",
			pay.Amount.StringFixed(2), pay.ReferenceMonth.Time.Format(referenceMonthLayout), pay.DueDate, inDays(daysLeft))
		n.Metadata = map[string]string{
			"amount":    pay.Amount.StringFixed(2),
			"due_date":  pay.DueDate.String(),
			"days_left": strconv.Itoa(daysLeft),
		}
		if err := s.create(ctx, StepDueSoon, n); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STEP 2: OVERDUE
// =============================================================================

func (s *scan) overdue(ctx context.Context, pol Policy) error {
	payments, err := s.overduePayments(ctx, pol)
	if err != nil {
		return err
	}

	// A notification created on any of the last ReminderIntervalDays days
	// (today included) holds the next one back.
	since := s.today.AddDays(1 - pol.ReminderIntervalDays).StartOfDay()

	for _, pay := range payments {
		c, ok, err := s.contractFor(ctx, StepOverdue, pol.UserID, pay)
		if err != nil {
			return err
		}
		if !ok || c.Status == finance.ContractClosed {
			continue
		}
		daysLate := pay.DaysLate(s.today)
		if daysLate == 0 {
			continue
		}

		recent, err := s.count(ctx, Filter{
			UserID:      pol.UserID,
			Categories:  []Category{CategoryOverdue},
			PaymentID:   pay.ID,
			CreatedFrom: &since,
		})
		if err != nil {
			if err := s.skip(StepOverdue, pol.UserID, string(pay.ID), err); err != nil {
				return err
			}
			continue
		}
		if recent > 0 {
			s.sum.Skipped++
			continue
		}

		prior, err := s.count(ctx, Filter{
			UserID:     pol.UserID,
			Categories: []Category{CategoryOverdue},
			PaymentID:  pay.ID,
		})
		if err != nil {
			if err := s.skip(StepOverdue, pol.UserID, string(pay.ID), err); err != nil {
				return err
			}
			continue
		}
		if prior >= pol.MaxReminders {
			s.sum.Skipped++
			continue
		}

		n := s.newNotification(pol.UserID, CategoryOverdue, latePriority(daysLate))
		n.ContractID = c.ID
		n.PaymentID = pay.ID
		n.Title = "Rent overdue"
		n.Body = fmt.Sprintf("Rent for %s is %d days late. Amount owed: %s (interest %s, penalty %s).",
			pay.ReferenceMonth.Time.Format(referenceMonthLayout), daysLate,
			pay.AmountOwed().StringFixed(2), pay.Interest.StringFixed(2), pay.Penalty.StringFixed(2))
		n.Metadata = lateMetadata(pay, daysLate)
		n.Metadata["notice"] = strconv.Itoa(prior + 1)
		if err := s.create(ctx, StepOverdue, n); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STEP 3: CONTRACT EXPIRING
// =============================================================================

func (s *scan) expiring(ctx context.Context, pol Policy) error {
	window := generic.Lookahead(s.today, pol.DaysBeforeContractEnd)
	callCtx, cancel := s.p.storeCall(ctx)
	contracts, err := s.p.records.ListContracts(callCtx, finance.ContractFilter{
		ManagerID: pol.UserID,
		Statuses:  []finance.ContractStatus{finance.ContractActive},
		EndFrom:   &window.Start,
		EndTo:     &window.End,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("list expiring contracts: %w", err)
	}

	for _, c := range contracts {
		exists, err := s.exists(ctx, Filter{
			UserID:          pol.UserID,
			Categories:      []Category{CategoryContractExpiring},
			ContractID:      c.ID,
			ExcludeStatuses: []Status{StatusCancelled},
		})
		if err != nil {
			if err := s.skip(StepExpiring, pol.UserID, string(c.ID), err); err != nil {
				return err
			}
			continue
		}
		if exists {
			s.sum.Skipped++
			continue
		}

		daysLeft := generic.DaysBetween(s.today, c.EndDate)
		priority := PriorityMedium
		if daysLeft <= highWithinDaysOfEnd {
			priority = PriorityHigh
		}
		n := s.newNotification(pol.UserID, CategoryContractExpiring, priority)
		n.ContractID = c.ID
		n.Title = "Contract ending"
		n.Body = fmt.Sprintf("Contract for property %s ends on %s (%s).", c.PropertyID, c.EndDate, inDays(daysLeft))
		n.Metadata = map[string]string{
			"end_date":    c.EndDate.String(),
			"days_left":   strconv.Itoa(daysLeft),
			"property_id": string(c.PropertyID),
			"tenant_id":   string(c.TenantID),
		}
		if err := s.create(ctx, StepExpiring, n); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STEP 4: REMINDER CADENCE
// =============================================================================

// cadence fires reminder number daysLate/interval on exact multiples of the
// interval. With ReminderCatchUp a missed day fires on the next run instead.
func (s *scan) cadence(ctx context.Context, pol Policy) error {
	payments, err := s.overduePayments(ctx, pol)
	if err != nil {
		return err
	}
	interval := pol.ReminderIntervalDays

	for _, pay := range payments {
		daysLate := pay.DaysLate(s.today)
		number := daysLate / interval
		if number < 1 {
			continue
		}
		if !s.p.cfg.ReminderCatchUp && daysLate%interval != 0 {
			continue
		}

		c, ok, err := s.contractFor(ctx, StepCadence, pol.UserID, pay)
		if err != nil {
			return err
		}
		if !ok || c.Status == finance.ContractClosed {
			continue
		}

		base := Filter{
			UserID:     pol.UserID,
			Categories: []Category{CategoryOverdueReminder},
			PaymentID:  pay.ID,
		}
		sent, err := s.count(ctx, base)
		if err != nil {
			if err := s.skip(StepCadence, pol.UserID, string(pay.ID), err); err != nil {
				return err
			}
			continue
		}
		if sent >= pol.MaxReminders {
			s.sum.Skipped++
			continue
		}
		numbered := base
		numbered.Sequence = number
		exists, err := s.exists(ctx, numbered)
		if err != nil {
			if err := s.skip(StepCadence, pol.UserID, string(pay.ID), err); err != nil {
				return err
			}
			continue
		}
		if exists {
			s.sum.Skipped++
			continue
		}

		n := s.newNotification(pol.UserID, CategoryOverdueReminder, latePriority(daysLate))
		n.ContractID = c.ID
		n.PaymentID = pay.ID
		n.Sequence = number
		n.Title = fmt.Sprintf("Overdue rent reminder #%d", number)
		n.Body = fmt.Sprintf("Rent for %s is still unpaid after %d days. Amount owed: %s.",
			pay.ReferenceMonth.Time.Format(referenceMonthLayout), daysLate, pay.AmountOwed().StringFixed(2))
		n.Metadata = lateMetadata(pay, daysLate)
		n.Metadata["reminder"] = strconv.Itoa(number)
		if err := s.create(ctx, StepCadence, n); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *scan) overduePayments(ctx context.Context, pol Policy) ([]finance.Payment, error) {
	dueTo := s.today.AddDays(-1)
	return s.payments(ctx, finance.PaymentFilter{
		ManagerID: pol.UserID,
		Statuses:  []finance.PaymentStatus{finance.PaymentOverdue},
		DueTo:     &dueTo,
	})
}

func (s *scan) payments(ctx context.Context, f finance.PaymentFilter) ([]finance.Payment, error) {
	callCtx, cancel := s.p.storeCall(ctx)
	defer cancel()
	payments, err := s.p.records.ListPayments(callCtx, f)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// contractFor resolves the payment's contract. ok is false when the
// lookup failed for this record only; that failure is already recorded.
func (s *scan) contractFor(ctx context.Context, step Step, user generic.UserID, pay finance.Payment) (finance.Contract, bool, error) {
	hit, cached := s.contracts[pay.ContractID]
	if !cached {
		callCtx, cancel := s.p.storeCall(ctx)
		c, err := s.p.records.GetContract(callCtx, pay.ContractID)
		cancel()
		if err != nil && abortsRun(err) {
			return finance.Contract{}, false, err
		}
		hit = contractLookup{contract: c, err: err}
		s.contracts[pay.ContractID] = hit
	}
	if hit.err != nil {
		s.sum.fail(step, user, string(pay.ID), fmt.Errorf("contract %s: %w", pay.ContractID, hit.err))
		return finance.Contract{}, false, nil
	}
	return hit.contract, true, nil
}

func (s *scan) count(ctx context.Context, f Filter) (int, error) {
	callCtx, cancel := s.p.storeCall(ctx)
	defer cancel()
	return s.p.store.CountNotifications(callCtx, f)
}

func (s *scan) exists(ctx context.Context, f Filter) (bool, error) {
	n, err := s.count(ctx, f)
	return n > 0, err
}

// skip records a per-record failure, or returns err when it must abort.
func (s *scan) skip(step Step, user generic.UserID, record string, err error) error {
	if abortsRun(err) {
		return err
	}
	s.sum.fail(step, user, record, err)
	return nil
}

func (s *scan) newNotification(user generic.UserID, category Category, priority Priority) Notification {
	return Notification{
		ID:        generic.NotificationID(generic.NewID()),
		Category:  category,
		Priority:  priority,
		UserID:    user,
		Status:    StatusPending,
		CreatedAt: s.p.now().UTC(),
	}
}

func (s *scan) create(ctx context.Context, step Step, n Notification) error {
	callCtx, cancel := s.p.storeCall(ctx)
	err := s.p.store.CreateNotification(callCtx, n)
	cancel()
	if err != nil {
		return s.skip(step, n.UserID, string(n.PaymentID)+string(n.ContractID), fmt.Errorf("create notification: %w", err))
	}
	s.sum.Created[n.Category]++
	s.log.WithFields(logrus.Fields{
		"category":   n.Category,
		"user_id":    n.UserID,
		"payment_id": n.PaymentID,
		"priority":   n.Priority,
	}).Debug("notification created")
	return nil
}

func latePriority(daysLate int) Priority {
	if daysLate > urgentAfterDaysLate {
		return PriorityUrgent
	}
	return PriorityHigh
}

func lateMetadata(pay finance.Payment, daysLate int) map[string]string {
	return map[string]string{
		"amount":     pay.Amount.StringFixed(2),
		"interest":   pay.Interest.StringFixed(2),
		"penalty":    pay.Penalty.StringFixed(2),
		"total_owed": pay.AmountOwed().StringFixed(2),
		"due_date":   pay.DueDate.String(),
		"days_late":  strconv.Itoa(daysLate),
	}
}

func inDays(n int) string {
	switch n {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	}
	return "in " + strconv.Itoa(n) + " days"
}
