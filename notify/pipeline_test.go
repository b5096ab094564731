package notify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/logging"
	"github.com/warp/rent-engine/notify"
	"github.com/warp/rent-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const manager generic.UserID = "manager-1"

var (
	may1 = generic.NewDate(2025, time.May, 1)
	may5 = generic.NewDate(2025, time.May, 5)
)

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) MarkDelivered(ctx context.Context, id generic.NotificationID) error {
	return m.Called(ctx, id).Error(0)
}

// harness wires a Pipeline to an in-memory store, a finance.Service for the
// refresh step, and a movable clock.
type harness struct {
	store    *memory.Store
	finance  *finance.Service
	pipeline *notify.Pipeline
	now      time.Time
}

func newHarness(t *testing.T, cfg notify.Config, d notify.Deliverer) *harness {
	t.Helper()
	h := &harness{store: memory.New(), now: may1.StartOfDay().Add(9 * time.Hour)}
	clock := func() time.Time { return h.now }

	h.finance = finance.NewService(h.store, logging.Discard())
	h.finance.Now = clock

	if d == nil {
		d = notify.LogDeliverer{Log: logging.Discard()}
	}
	cfg.DeliveryRate = rate.Inf
	h.pipeline = notify.NewPipeline(h.store, h.store, h.finance, d, cfg, logging.Discard()).WithClock(clock)

	_, err := notify.SavePolicy(context.Background(), h.store, notify.DefaultPolicy(manager), h.now)
	require.NoError(t, err)
	return h
}

// at moves the clock to 09:00 on d.
func (h *harness) at(d generic.Date) {
	h.now = d.StartOfDay().Add(9 * time.Hour)
}

func (h *harness) scan(t *testing.T) notify.Summary {
	t.Helper()
	sum, err := h.pipeline.RunScan(context.Background(), nil)
	require.NoError(t, err)
	return sum
}

// lease creates a contract for manager, one installment per month.
func (h *harness) lease(t *testing.T, id string, start, end generic.Date, dueDay int) []finance.Payment {
	t.Helper()
	_, schedule, err := h.finance.CreateContract(context.Background(), finance.Contract{
		ID:         generic.ContractID(id),
		PropertyID: "prop-" + generic.PropertyID(id),
		TenantID:   "tenant-" + generic.TenantID(id),
		ManagerID:  manager,
		RentAmount: generic.MustParseDecimal("1500.00"),
		StartDate:  start,
		EndDate:    end,
		DueDay:     dueDay,
	})
	require.NoError(t, err)
	return schedule
}

// yearLease is May 2025 .. April 2026, rent due on the 5th.
func (h *harness) yearLease(t *testing.T, id string) []finance.Payment {
	return h.lease(t, id, may1, generic.NewDate(2026, time.April, 30), 5)
}

func (h *harness) notifications(t *testing.T, f notify.Filter) []notify.Notification {
	t.Helper()
	list, err := h.store.ListNotifications(context.Background(), f)
	require.NoError(t, err)
	return list
}

// =============================================================================
// CADENCE AND CAP TESTS
// =============================================================================

func TestRunScan_OverdueNoticesAndRemindersFollowCadence(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")

	// GIVEN: May's rent (due May 5) is never paid
	// WHEN: The scan runs every day through May 31
	fired := map[notify.Category][]int{}
	for day := may5.AddDays(1); !day.After(generic.NewDate(2025, time.May, 31)); day = day.AddDays(1) {
		h.at(day)
		sum := h.scan(t)
		for cat, n := range sum.Created {
			for i := 0; i < n; i++ {
				fired[cat] = append(fired[cat], generic.DaysBetween(may5, day))
			}
		}
	}

	// THEN: Overdue notices are a week apart and capped at three
	assert.Equal(t, []int{1, 8, 15}, fired[notify.CategoryOverdue])
	// AND: Reminders fire on exact multiples of the interval, also capped
	assert.Equal(t, []int{7, 14, 21}, fired[notify.CategoryOverdueReminder])
	assert.Empty(t, fired[notify.CategoryDueSoon])
	assert.Empty(t, fired[notify.CategoryContractExpiring])

	reminders := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryOverdueReminder}})
	require.Len(t, reminders, 3)
	for i, n := range reminders {
		assert.Equal(t, i+1, n.Sequence)
		assert.Equal(t, notify.StatusSent, n.Status)
		assert.Equal(t, notify.PriorityHigh, n.Priority)
		assert.Equal(t, manager, n.UserID)
	}
	assert.Equal(t, "Overdue rent reminder #2", reminders[1].Title)
	assert.Equal(t, "14", reminders[1].Metadata["days_late"])
}

func TestRunScan_IsIdempotentWithinADay(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(7))

	// GIVEN: A first scan on day 7 of lateness
	first := h.scan(t)
	assert.Equal(t, 1, first.Created[notify.CategoryOverdue])
	assert.Equal(t, 1, first.Created[notify.CategoryOverdueReminder])
	assert.Equal(t, 2, first.Delivered)

	// WHEN: Re-running the same day
	second := h.scan(t)

	// THEN: Nothing new is created or delivered
	assert.Zero(t, second.TotalCreated())
	assert.Zero(t, second.Delivered)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, h.notifications(t, notify.Filter{UserID: manager}), 2)
}

func TestRunScan_DueSoonAndExpiringAreIdempotentWithinADay(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.lease(t, "c-1", may1, generic.NewDate(2025, time.June, 20), 23)
	h.at(generic.NewDate(2025, time.May, 21))

	// GIVEN: May rent is due in two days and the lease ends in thirty
	first := h.scan(t)
	assert.Equal(t, 1, first.Created[notify.CategoryDueSoon])
	assert.Equal(t, 1, first.Created[notify.CategoryContractExpiring])
	assert.Equal(t, 2, first.Delivered)

	// WHEN: Re-running the same day with nothing changed
	second := h.scan(t)

	// THEN: Both are recognized as already sent
	assert.Zero(t, second.TotalCreated())
	assert.Zero(t, second.Delivered)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, h.notifications(t, notify.Filter{UserID: manager}), 2)
}

func TestRunScan_MaxRemindersFromPolicy(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	pol := notify.DefaultPolicy(manager)
	pol.MaxReminders = 1
	_, err := notify.SavePolicy(context.Background(), h.store, pol, h.now)
	require.NoError(t, err)
	h.yearLease(t, "c-1")

	for _, daysLate := range []int{7, 14, 21} {
		h.at(may5.AddDays(daysLate))
		h.scan(t)
	}

	overdue := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryOverdue}})
	reminders := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryOverdueReminder}})
	assert.Len(t, overdue, 1)
	require.Len(t, reminders, 1)
	assert.Equal(t, 1, reminders[0].Sequence)
}

func TestRunScan_MissedReminderDayWithoutCatchUp(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")

	// GIVEN: The day-7 scan never ran
	// WHEN: The next scan is on day 9
	h.at(may5.AddDays(9))
	sum := h.scan(t)

	// THEN: The missed reminder is not sent late
	assert.Zero(t, sum.Created[notify.CategoryOverdueReminder])
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdue])
}

func TestRunScan_MissedReminderDayWithCatchUp(t *testing.T) {
	h := newHarness(t, notify.Config{ReminderCatchUp: true}, nil)
	h.yearLease(t, "c-1")

	// WHEN: The first scan after day 7 runs on day 9
	h.at(may5.AddDays(9))
	sum := h.scan(t)

	// THEN: Reminder #1 fires now, and only once
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdueReminder])
	h.at(may5.AddDays(10))
	assert.Zero(t, h.scan(t).Created[notify.CategoryOverdueReminder])

	// AND: #2 still waits for day 14
	h.at(may5.AddDays(14))
	assert.Equal(t, 1, h.scan(t).Created[notify.CategoryOverdueReminder])

	reminders := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryOverdueReminder}})
	require.Len(t, reminders, 2)
	assert.Equal(t, 1, reminders[0].Sequence)
	assert.Equal(t, 2, reminders[1].Sequence)
}

func TestRunScan_UrgentWhenLongOverdue(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.lease(t, "c-1", generic.NewDate(2025, time.March, 1), generic.NewDate(2026, time.February, 28), 5)

	// GIVEN: March rent 36 days late, April rent 5 days late
	h.at(generic.NewDate(2025, time.April, 10))
	sum := h.scan(t)

	// THEN: Both get a notice, with priority by lateness
	require.Equal(t, 2, sum.Created[notify.CategoryOverdue])
	overdue := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryOverdue}})
	priorities := map[string]notify.Priority{}
	for _, n := range overdue {
		priorities[n.Metadata["days_late"]] = n.Priority
	}
	assert.Equal(t, notify.PriorityUrgent, priorities["36"])
	assert.Equal(t, notify.PriorityHigh, priorities["5"])
}

// =============================================================================
// DUE-SOON AND EXPIRING TESTS
// =============================================================================

func TestRunScan_DueSoon(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	schedule := h.yearLease(t, "c-1")

	// GIVEN: May rent is due in two days
	h.at(generic.NewDate(2025, time.May, 3))
	sum := h.scan(t)

	// THEN: One due-soon notification about it
	require.Equal(t, 1, sum.Created[notify.CategoryDueSoon])
	list := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryDueSoon}})
	require.Len(t, list, 1)
	n := list[0]
	assert.Equal(t, schedule[0].ID, n.PaymentID)
	assert.Equal(t, generic.ContractID("c-1"), n.ContractID)
	assert.Equal(t, notify.PriorityMedium, n.Priority)
	assert.Equal(t, "2", n.Metadata["days_left"])
	assert.Equal(t, "1500.00", n.Metadata["amount"])

	// AND: The next day does not repeat it
	h.at(generic.NewDate(2025, time.May, 4))
	assert.Zero(t, h.scan(t).Created[notify.CategoryDueSoon])
}

func TestRunScan_DueSoonHighPriorityOnLastDay(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")

	h.at(generic.NewDate(2025, time.May, 4))
	h.scan(t)

	list := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryDueSoon}})
	require.Len(t, list, 1)
	assert.Equal(t, notify.PriorityHigh, list[0].Priority)
}

func TestRunScan_DueSoonSkipsSuspendedContracts(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")
	_, err := h.finance.SuspendContract(context.Background(), "c-1")
	require.NoError(t, err)

	h.at(generic.NewDate(2025, time.May, 3))

	assert.Zero(t, h.scan(t).TotalCreated())
}

func TestRunScan_ContractExpiring(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.lease(t, "c-1", may1, generic.NewDate(2025, time.June, 20), 25)

	// GIVEN: The lease ends in exactly 30 days
	h.at(generic.NewDate(2025, time.May, 21))
	sum := h.scan(t)

	// THEN: One expiring notification, medium priority
	assert.Equal(t, 1, sum.Created[notify.CategoryContractExpiring])
	list := h.notifications(t, notify.Filter{Categories: []notify.Category{notify.CategoryContractExpiring}})
	require.Len(t, list, 1)
	assert.Equal(t, notify.PriorityMedium, list[0].Priority)
	assert.Equal(t, "30", list[0].Metadata["days_left"])
	assert.Empty(t, list[0].PaymentID)

	// AND: Only one per contract
	h.at(generic.NewDate(2025, time.June, 15))
	assert.Zero(t, h.scan(t).Created[notify.CategoryContractExpiring])
}

func TestRunScan_RespectsPolicySwitches(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	pol := notify.DefaultPolicy(manager)
	pol.NotifyOverdue = false
	_, err := notify.SavePolicy(context.Background(), h.store, pol, h.now)
	require.NoError(t, err)
	h.yearLease(t, "c-1")

	h.at(may5.AddDays(7))
	assert.Zero(t, h.scan(t).TotalCreated())

	pol = notify.DefaultPolicy(manager)
	pol.Enabled = false
	_, err = notify.SavePolicy(context.Background(), h.store, pol, h.now)
	require.NoError(t, err)

	h.at(may5.AddDays(14))
	assert.Zero(t, h.scan(t).TotalCreated())
}

func TestRunScan_PaidInstallmentIsNotNotified(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	schedule := h.yearLease(t, "c-1")
	_, err := h.finance.RegisterPayment(context.Background(), schedule[0].ID, schedule[0].Amount, may5)
	require.NoError(t, err)

	h.at(may5.AddDays(7))

	assert.Zero(t, h.scan(t).TotalCreated())
}

// =============================================================================
// DELIVERY TESTS
// =============================================================================

func TestRunScan_FailedDeliveryStaysPending(t *testing.T) {
	d := &mockDeliverer{}
	d.On("MarkDelivered", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
	d.On("MarkDelivered", mock.Anything, mock.Anything).Return(nil)

	h := newHarness(t, notify.Config{}, d)
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(1))

	// GIVEN: Delivery fails on the first run
	first := h.scan(t)

	// THEN: The notification exists, stays pending, and the failure is reported
	assert.Equal(t, 1, first.Created[notify.CategoryOverdue])
	assert.Zero(t, first.Delivered)
	require.Len(t, first.Errors, 1)
	assert.Equal(t, notify.StepDelivery, first.Errors[0].Step)
	pending := h.notifications(t, notify.Filter{Statuses: []notify.Status{notify.StatusPending}})
	require.Len(t, pending, 1)

	// WHEN: The next run finds delivery working again
	second := h.scan(t)

	// THEN: It is sent without creating a duplicate
	assert.Zero(t, second.TotalCreated())
	assert.Equal(t, 1, second.Delivered)
	sent, err := h.store.GetNotification(context.Background(), pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	d.AssertNumberOfCalls(t, "MarkDelivered", 2)
}

func TestRunScan_FlushIsBatchedOldestFirst(t *testing.T) {
	h := newHarness(t, notify.Config{BatchSize: 2}, nil)
	ctx := context.Background()

	// GIVEN: Three pending notifications created an hour apart
	var ids []generic.NotificationID
	for i := 0; i < 3; i++ {
		n := notify.Notification{
			ID:        generic.NotificationID(fmt.Sprintf("n-%d", i)),
			Category:  notify.CategoryOverdue,
			Title:     "Overdue rent",
			Priority:  notify.PriorityHigh,
			UserID:    manager,
			Status:    notify.StatusPending,
			CreatedAt: h.now.Add(time.Duration(i-3) * time.Hour),
		}
		require.NoError(t, h.store.CreateNotification(ctx, n))
		ids = append(ids, n.ID)
	}

	// WHEN: One scan runs
	first := h.scan(t)

	// THEN: Only a batch is delivered, the two oldest
	assert.Equal(t, 2, first.Delivered)
	status := func(id generic.NotificationID) notify.Status {
		n, err := h.store.GetNotification(ctx, id)
		require.NoError(t, err)
		return n.Status
	}
	assert.Equal(t, notify.StatusSent, status(ids[0]))
	assert.Equal(t, notify.StatusSent, status(ids[1]))
	assert.Equal(t, notify.StatusPending, status(ids[2]))

	// AND: The next run picks up the remainder
	second := h.scan(t)
	assert.Equal(t, 1, second.Delivered)
	assert.Equal(t, notify.StatusSent, status(ids[2]))
}

// =============================================================================
// FAILURE MODEL TESTS
// =============================================================================

func TestRunScan_DanglingPaymentIsRecordedAndSkipped(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")
	h.store.PutPayment(finance.Payment{
		ID:             "orphan",
		ContractID:     "ghost",
		ReferenceMonth: may1,
		Amount:         generic.MustParseDecimal("700"),
		DueDate:        may5,
		Status:         finance.PaymentPending,
	})

	h.at(may5.AddDays(1))
	sum := h.scan(t)

	// THEN: The healthy contract is still notified
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdue])
	require.NotEmpty(t, sum.Errors)
	assert.Equal(t, notify.StepRefresh, sum.Errors[0].Step)
	assert.Equal(t, "orphan", sum.Errors[0].RecordID)
}

func TestRunScan_InvalidStoredPolicyOnlySkipsItsUser(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	ctx := context.Background()
	h.yearLease(t, "c-1")

	// GIVEN: A second manager whose stored policy has a zero reminder interval
	broken := notify.DefaultPolicy("manager-2")
	broken.ReminderIntervalDays = 0
	require.NoError(t, h.store.UpsertPolicy(ctx, broken))
	_, _, err := h.finance.CreateContract(ctx, finance.Contract{
		ID:         "c-2",
		PropertyID: "prop-c-2",
		TenantID:   "tenant-c-2",
		ManagerID:  "manager-2",
		RentAmount: generic.MustParseDecimal("900.00"),
		StartDate:  may1,
		EndDate:    generic.NewDate(2026, time.April, 30),
		DueDay:     5,
	})
	require.NoError(t, err)

	// WHEN: Scanning on day 7 of lateness
	h.at(may5.AddDays(7))
	var sum notify.Summary
	require.NotPanics(t, func() { sum = h.scan(t) })

	// THEN: The healthy manager is notified and delivered to
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdue])
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdueReminder])
	assert.Equal(t, 2, sum.Delivered)
	assert.Empty(t, h.notifications(t, notify.Filter{UserID: "manager-2"}))

	// AND: The bad policy is reported and the run completes
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, notify.StepPolicy, sum.Errors[0].Step)
	assert.Equal(t, generic.UserID("manager-2"), sum.Errors[0].UserID)
	runs, err := h.pipeline.Runs(ctx, generic.Page{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, notify.RunCompleted, runs[0].Status)
}

func TestRunScan_StoreUnavailableAborts(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(1))
	h.store.SetUnavailable(true)

	sum, err := h.pipeline.RunScan(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, generic.IsSystemic(err))
	assert.Zero(t, sum.TotalCreated())
	assert.Zero(t, sum.Delivered)
}

// failingCounts makes numbered reminder lookups fail as if the store went
// away mid-run.
type failingCounts struct {
	*memory.Store
}

func (f failingCounts) CountNotifications(ctx context.Context, filter notify.Filter) (int, error) {
	if filter.Sequence > 0 {
		return 0, generic.ErrStoreUnavailable
	}
	return f.Store.CountNotifications(ctx, filter)
}

func TestRunScan_MidRunOutageReportsNoProgress(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(7))
	pipeline := notify.NewPipeline(failingCounts{h.store}, h.store, h.finance,
		notify.LogDeliverer{Log: logging.Discard()}, notify.Config{}, logging.Discard()).
		WithClock(func() time.Time { return h.now })

	// WHEN: The store fails after the overdue notice was written
	sum, err := pipeline.RunScan(context.Background(), nil)

	// THEN: The run aborts and reports no progress
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.Zero(t, sum.TotalCreated())
	assert.NotZero(t, sum.FinishedAt)

	// AND: The run record keeps what actually happened
	runs, err := pipeline.Runs(context.Background(), generic.Page{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, notify.RunFailed, runs[0].Status)
	assert.Equal(t, 1, runs[0].Created)
	assert.Contains(t, runs[0].Error, "data store unavailable")

	// AND: The notice was never flushed
	pending := h.notifications(t, notify.Filter{Statuses: []notify.Status{notify.StatusPending}})
	assert.Len(t, pending, 1)
}

// =============================================================================
// OVERLAP TESTS
// =============================================================================

func TestRunScan_RejectsConcurrentRunInProcess(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	d := notify.DelivererFunc(func(ctx context.Context, id generic.NotificationID) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	h := newHarness(t, notify.Config{}, d)
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(1))

	// GIVEN: A scan blocked in delivery
	done := make(chan error, 1)
	go func() {
		_, err := h.pipeline.RunScan(context.Background(), nil)
		done <- err
	}()
	<-started

	// WHEN: A second scan is triggered
	_, err := h.pipeline.RunScan(context.Background(), nil)

	// THEN: It is rejected, and the first completes normally
	assert.ErrorIs(t, err, generic.ErrScanInProgress)
	close(release)
	require.NoError(t, <-done)
}

func TestRunScan_RejectsRunHeldByAnotherProcess(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	ctx := context.Background()
	h.at(may5)

	// GIVEN: Another process started a run a minute ago
	other := notify.Run{ID: "other", Status: notify.RunRunning, StartedAt: h.now.Add(-time.Minute)}
	require.NoError(t, h.store.BeginRun(ctx, other, h.now.Add(-time.Hour)))

	_, err := h.pipeline.RunScan(ctx, nil)

	assert.ErrorIs(t, err, generic.ErrScanInProgress)
}

func TestRunScan_TakesOverStaleRun(t *testing.T) {
	h := newHarness(t, notify.Config{RunLease: 30 * time.Minute}, nil)
	ctx := context.Background()
	h.at(may5)

	// GIVEN: A run that started two hours ago and never finished
	stale := notify.Run{ID: "crashed", Status: notify.RunRunning, StartedAt: h.now.Add(-2 * time.Hour)}
	require.NoError(t, h.store.BeginRun(ctx, stale, h.now.Add(-3*time.Hour)))

	// WHEN: A new scan starts
	h.scan(t)

	// THEN: The stale run is closed out as failed
	runs, err := h.pipeline.Runs(ctx, generic.Page{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, notify.RunCompleted, runs[0].Status)
	assert.Equal(t, generic.RunID("crashed"), runs[1].ID)
	assert.Equal(t, notify.RunFailed, runs[1].Status)
}

func TestRunScan_ReferenceDateOverride(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(20))

	// WHEN: Re-running a missed day explicitly
	ref := may5.AddDays(7)
	sum, err := h.pipeline.RunScan(context.Background(), &ref)

	// THEN: The reminder for that day fires
	require.NoError(t, err)
	assert.Equal(t, ref, sum.ReferenceDate)
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdueReminder])
}

// =============================================================================
// CANCEL AND READ TESTS
// =============================================================================

func TestCancelForContract(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	ctx := context.Background()
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(7))
	h.scan(t)

	// WHEN: The contract's notifications are cancelled
	n, err := h.pipeline.CancelForContract(ctx, "c-1")

	// THEN: Every open one is cancelled
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, note := range h.notifications(t, notify.Filter{ContractID: "c-1"}) {
		assert.Equal(t, notify.StatusCancelled, note.Status)
	}

	// AND: Cancelling again finds nothing open
	n, err = h.pipeline.CancelForContract(ctx, "c-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkRead(t *testing.T) {
	h := newHarness(t, notify.Config{}, nil)
	ctx := context.Background()
	h.yearLease(t, "c-1")
	h.at(may5.AddDays(1))
	h.scan(t)
	list := h.notifications(t, notify.Filter{UserID: manager})
	require.Len(t, list, 1)
	id := list[0].ID

	// Another user cannot see it
	_, err := h.pipeline.MarkRead(ctx, id, "someone-else")
	assert.True(t, generic.IsNotFound(err))

	read, err := h.pipeline.MarkRead(ctx, id, manager)
	require.NoError(t, err)
	assert.Equal(t, notify.StatusRead, read.Status)
	require.NotNil(t, read.ReadAt)

	// Read is terminal
	_, err = h.pipeline.MarkRead(ctx, id, manager)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = h.pipeline.MarkRead(ctx, "missing", manager)
	assert.True(t, generic.IsNotFound(err))
}
