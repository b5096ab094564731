/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Contract creation, lookup and closing (with notification cancellation)
- Payment registration and accrual lookup
- Rates and notification policy endpoints
- Scan trigger, inbox listing and acknowledgement
- Error status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
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

type testServer struct {
	t      *testing.T
	store  *memory.Store
	router http.Handler
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{t: t, store: memory.New(), now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return ts.now }
	log := logging.Discard()

	svc := finance.NewService(ts.store, log)
	svc.Now = clock
	pipeline := notify.NewPipeline(ts.store, ts.store, svc, notify.LogDeliverer{Log: log},
		notify.Config{DeliveryRate: rate.Inf}, log).WithClock(clock)

	h := NewHandler(ts.store, svc, pipeline, log)
	h.Now = clock
	ts.router = NewRouter(h, []string{"*"})
	return ts
}

func (ts *testServer) at(year int, month time.Month, day int) {
	ts.now = time.Date(year, month, day, 9, 0, 0, 0, time.UTC)
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(ts.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func leaseRequest() map[string]any {
	return map[string]any{
		"property_id": "apt-1",
		"tenant_id":   "tenant-1",
		"manager_id":  "manager-1",
		"rent_amount": "1500.00",
		"start_date":  "2025-05-01",
		"end_date":    "2026-04-30",
		"due_day":     5,
	}
}

// createLease posts a year lease and returns it with its schedule.
func (ts *testServer) createLease() ContractDTO {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/contracts", leaseRequest())
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ContractDTO](ts.t, rec)
}

// enableNotifications stores the default policy for manager-1.
func (ts *testServer) enableNotifications() {
	ts.t.Helper()
	rec := ts.do(http.MethodGet, "/api/users/manager-1/notification-policy", nil)
	require.Equal(ts.t, http.StatusOK, rec.Code)
}

// =============================================================================
// CONTRACT TESTS
// =============================================================================

func TestCreateContract_ReturnsSchedule(t *testing.T) {
	ts := newTestServer(t)

	c := ts.createLease()

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "active", c.Status)
	assert.Equal(t, "1500.00", c.RentAmount)
	require.Len(t, c.Payments, 12)
	assert.Equal(t, "2025-05", c.Payments[0].ReferenceMonth)
	assert.Equal(t, "2025-05-05", c.Payments[0].DueDate.String())
	assert.Equal(t, "pending", c.Payments[0].Status)

	rec := ts.do(http.MethodGet, "/api/contracts/"+c.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[ContractDTO](t, rec)
	assert.Len(t, got.Payments, 12)

	rec = ts.do(http.MethodGet, "/api/contracts/"+c.ID+"/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]PaymentDTO](t, rec), 12)
}

func TestCreateContract_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"end before start", func(m map[string]any) { m["end_date"] = "2025-04-01" }},
		{"missing property", func(m map[string]any) { delete(m, "property_id") }},
		{"due day out of range", func(m map[string]any) { m["due_day"] = 32 }},
		{"malformed date", func(m map[string]any) { m["start_date"] = "2025-13-01" }},
		{"zero rent", func(m map[string]any) { m["rent_amount"] = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			body := leaseRequest()
			tt.mutate(body)

			rec := ts.do(http.MethodPost, "/api/contracts", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Details)
		})
	}
}

func TestCreateContract_DuplicateID(t *testing.T) {
	ts := newTestServer(t)
	body := leaseRequest()
	body["id"] = "c-1"
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/contracts", body).Code)

	rec := ts.do(http.MethodPost, "/api/contracts", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetContract_NotFound(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/contracts/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/contracts/missing/payments", nil).Code)
}

func TestCloseContract_CancelsFutureItemsAndNotifications(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createLease()
	ts.enableNotifications()

	// GIVEN: May rent a week late, with an overdue notice and reminder #1
	ts.at(2025, time.May, 12)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/scan", nil).Code)

	// WHEN: Closing the contract
	rec := ts.do(http.MethodPost, "/api/contracts/"+c.ID+"/close", map[string]any{"closed_on": "2025-05-31"})

	// THEN: Both notifications are cancelled
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[struct {
		Contract  ContractDTO `json:"contract"`
		Cancelled int         `json:"cancelled_notifications"`
	}](t, rec)
	assert.Equal(t, "closed", resp.Contract.Status)
	assert.Equal(t, 2, resp.Cancelled)

	// AND: Installments after the closing date are cancelled; May stays owed
	payments := decodeBody[[]PaymentDTO](t, ts.do(http.MethodGet, "/api/contracts/"+c.ID+"/payments", nil))
	require.Len(t, payments, 12)
	assert.Equal(t, "overdue", payments[0].Status)
	for _, p := range payments[1:] {
		assert.Equal(t, "cancelled", p.Status, p.ReferenceMonth)
	}

	// AND: Closing twice is a conflict
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/api/contracts/"+c.ID+"/close", nil).Code)
}

// =============================================================================
// PAYMENT TESTS
// =============================================================================

func TestAccrualAndPayment(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createLease()
	may := c.Payments[0].ID

	// GIVEN: May rent 30 days late under default rates
	rec := ts.do(http.MethodGet, "/api/payments/"+may+"/accrual?as_of=2025-06-04", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accrual := decodeBody[AccrualDTO](t, rec)
	assert.Equal(t, "overdue", accrual.Status)
	assert.Equal(t, 30, accrual.DaysLate)
	assert.Equal(t, "30.00", accrual.Penalty)
	assert.Equal(t, "12.50", accrual.Interest)
	assert.Equal(t, "1542.50", accrual.Total)

	// WHEN: The tenant pays the full amount
	rec = ts.do(http.MethodPost, "/api/payments/"+may+"/pay", map[string]any{"amount": "1542.50", "paid_date": "2025-06-04"})

	// THEN: Paid, and a second payment is a conflict
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeBody[PaymentDTO](t, rec)
	assert.Equal(t, "paid", paid.Status)
	require.NotNil(t, paid.PaidAmount)
	assert.Equal(t, "1542.50", *paid.PaidAmount)
	assert.Equal(t, http.StatusConflict,
		ts.do(http.MethodPost, "/api/payments/"+may+"/pay", map[string]any{"amount": "1500"}).Code)

	// AND: Profitability counts the payment less commission
	rec = ts.do(http.MethodGet, "/api/contracts/"+c.ID+"/profitability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profit := decodeBody[ProfitabilityDTO](t, rec)
	assert.Equal(t, "1542.50", profit.Gross)
	assert.Equal(t, "90.00", profit.MarginPercent)
}

func TestPayment_Errors(t *testing.T) {
	ts := newTestServer(t)
	c := ts.createLease()

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/payments/missing/accrual", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodGet, "/api/payments/"+c.Payments[0].ID+"/accrual?as_of=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPost, "/api/payments/"+c.Payments[0].ID+"/pay", map[string]any{"amount": "-5"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPost, "/api/payments/"+c.Payments[0].ID+"/pay", "{not json").Code)
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestRates(t *testing.T) {
	ts := newTestServer(t)

	// Defaults when nothing is stored
	rec := ts.do(http.MethodGet, "/api/users/manager-1/rates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rates := decodeBody[RatesDTO](t, rec)
	assert.Equal(t, 5, rates.GraceDays)

	rates.PenaltyRate = rates.PenaltyRate.Add(rates.PenaltyRate).Add(rates.PenaltyRate) // 0.06
	rates.GraceDays = 10
	rec = ts.do(http.MethodPut, "/api/users/manager-1/rates", rates)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeBody[RatesDTO](t, ts.do(http.MethodGet, "/api/users/manager-1/rates", nil))
	assert.Equal(t, 10, got.GraceDays)
	assert.Equal(t, "0.06", got.PenaltyRate.String())

	rates.GraceDays = 31
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/api/users/manager-1/rates", rates).Code)
}

func TestNotificationPolicy(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/users/manager-1/notification-policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pol := decodeBody[PolicyDTO](t, rec)
	assert.True(t, pol.Enabled)
	assert.Equal(t, 7, pol.ReminderIntervalDays)

	pol.MaxReminders = 5
	pol.NotifyDueSoon = false
	rec = ts.do(http.MethodPut, "/api/users/manager-1/notification-policy", pol)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeBody[PolicyDTO](t, ts.do(http.MethodGet, "/api/users/manager-1/notification-policy", nil))
	assert.Equal(t, 5, got.MaxReminders)
	assert.False(t, got.NotifyDueSoon)

	pol.ReminderIntervalDays = 0
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/api/users/manager-1/notification-policy", pol).Code)
}

// =============================================================================
// SCAN AND INBOX TESTS
// =============================================================================

func TestScan_InboxAndRead(t *testing.T) {
	ts := newTestServer(t)
	ts.createLease()
	ts.enableNotifications()
	ts.at(2025, time.May, 12)

	// WHEN: A scan runs on day 7 of lateness
	rec := ts.do(http.MethodPost, "/api/scan", nil)

	// THEN: One overdue notice and reminder #1
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decodeBody[notify.Summary](t, rec)
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdue])
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdueReminder])
	assert.Equal(t, 2, sum.Delivered)
	assert.Equal(t, "2025-05-12", sum.ReferenceDate.String())

	rec = ts.do(http.MethodGet, "/api/users/manager-1/notifications?category=overdue-reminder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decodeBody[[]NotificationDTO](t, rec)
	require.Len(t, inbox, 1)
	n := inbox[0]
	assert.Equal(t, "sent", n.Status)
	assert.Equal(t, 1, n.Sequence)
	assert.Equal(t, "7", n.Metadata["days_late"])

	// Another manager sees nothing and cannot read it
	assert.Empty(t, decodeBody[[]NotificationDTO](t, ts.do(http.MethodGet, "/api/users/manager-2/notifications", nil)))
	rec = ts.do(http.MethodPost, "/api/notifications/"+n.ID+"/read", map[string]any{"user_id": "manager-2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The owner can, once
	rec = ts.do(http.MethodPost, "/api/notifications/"+n.ID+"/read", map[string]any{"user_id": "manager-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "read", decodeBody[NotificationDTO](t, rec).Status)
	rec = ts.do(http.MethodPost, "/api/notifications/"+n.ID+"/read", map[string]any{"user_id": "manager-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(http.MethodPost, "/api/notifications/"+n.ID+"/read", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Status filter and paging
	read := decodeBody[[]NotificationDTO](t, ts.do(http.MethodGet, "/api/users/manager-1/notifications?status=read", nil))
	assert.Len(t, read, 1)
	paged := decodeBody[[]NotificationDTO](t, ts.do(http.MethodGet, "/api/users/manager-1/notifications?limit=1&offset=1", nil))
	assert.Len(t, paged, 1)

	// Run history
	rec = ts.do(http.MethodGet, "/api/scan/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[[]RunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 2, runs[0].Created)
}

func TestScan_ReferenceDateOverride(t *testing.T) {
	ts := newTestServer(t)
	ts.createLease()
	ts.enableNotifications()
	ts.at(2025, time.May, 30)

	rec := ts.do(http.MethodPost, "/api/scan?date=2025-05-19", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	sum := decodeBody[notify.Summary](t, rec)
	assert.Equal(t, "2025-05-19", sum.ReferenceDate.String())
	assert.Equal(t, 1, sum.Created[notify.CategoryOverdueReminder])
}

func TestListNotifications_RejectsBadQuery(t *testing.T) {
	ts := newTestServer(t)

	for _, q := range []string{"status=archived", "category=birthday", "limit=-1", "offset=x"} {
		rec := ts.do(http.MethodGet, "/api/users/manager-1/notifications?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/scan?date=31-05-2025", nil).Code)
}

func TestStoreOutage(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", nil).Code)

	ts.store.SetUnavailable(true)

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/api/scan", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/api/contracts/c-1", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/api/users/manager-1/rates", nil).Code)
}

// =============================================================================
// TOOL TESTS
// =============================================================================

func TestComputeProfitability(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/profitability", map[string]any{
		"revenues": []string{"1000", "500"},
		"expenses": []string{"300"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[ProfitabilityDTO](t, rec)
	assert.Equal(t, "1500.00", p.Gross)
	assert.Equal(t, "1200.00", p.Net)
	assert.Equal(t, "80.00", p.MarginPercent)

	rec = ts.do(http.MethodPost, "/api/profitability", map[string]any{"revenues": []string{"-1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", generic.NewInvalidInput("rent_amount", "must be positive"), http.StatusBadRequest},
		{"not found", &generic.NotFoundError{Kind: "contract", ID: "c-1"}, http.StatusNotFound},
		{"duplicate", fmt.Errorf("contract c-1: %w", generic.ErrDuplicate), http.StatusConflict},
		{"transition", &generic.TransitionError{Kind: "payment", From: "paid", To: "paid"}, http.StatusConflict},
		{"scan running", generic.ErrScanInProgress, http.StatusConflict},
		{"store down", fmt.Errorf("list: %w", generic.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
