/*
handlers.go - HTTP API handlers for the rent engine

PURPOSE:
  Exposes contracts, payments, rates, notification policies and the
  notification scan over REST. Handles request/response and delegates to
  finance.Service and notify.Pipeline.

ENDPOINTS:
  Contracts:
    POST   /api/contracts                      Create contract + schedule
    GET    /api/contracts/{id}                 Contract with its payments
    GET    /api/contracts/{id}/payments        Payment schedule
    POST   /api/contracts/{id}/close           Close, cancel future items
    GET    /api/contracts/{id}/profitability   Paid revenue vs commission

  Payments:
    POST   /api/payments/{id}/pay              Register a manual payment
    GET    /api/payments/{id}/accrual?as_of=   Status and accrual at a date

  Users:
    GET|PUT /api/users/{id}/rates
    GET|PUT /api/users/{id}/notification-policy
    GET     /api/users/{id}/notifications?status=&category=&limit=&offset=

  Notifications / scan:
    POST   /api/notifications/{id}/read        Acknowledge
    POST   /api/scan?date=                     Run a scan now
    GET    /api/scan/runs                      Recent scan runs

  Tools:
    POST   /api/profitability                  Profitability of raw figures
    GET    /api/scenarios, POST /api/scenarios/load

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error tier:
  - 400: invalid input
  - 404: record not found
  - 409: duplicate, invalid transition, scan already running
  - 503: store unavailable or timed out
  - 500: anything else

SECURITY NOTE:
  No authentication. The user id in the path is trusted.

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/notify"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the HTTP layer needs from persistence.
type Store interface {
	finance.Store
	notify.Store
	// Reset deletes every record. Demo scenarios only.
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Finance  *finance.Service
	Pipeline *notify.Pipeline
	Now      func() time.Time
	Log      logrus.FieldLogger

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(store Store, svc *finance.Service, pipeline *notify.Pipeline, log logrus.FieldLogger) *Handler {
	return &Handler{
		Store:    store,
		Finance:  svc,
		Pipeline: pipeline,
		Now:      time.Now,
		Log:      log,
	}
}

func (h *Handler) today() generic.Date {
	return generic.DateOf(h.Now())
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	c, schedule, err := h.Finance.CreateContract(r.Context(), req.toContract())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := toContractDTO(c)
	dto.Payments = toPaymentDTOs(schedule)
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))
	c, err := h.Finance.GetContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payments, err := h.Finance.ListPayments(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := toContractDTO(c)
	dto.Payments = toPaymentDTOs(payments)
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ListContractPayments(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))
	if _, err := h.Finance.GetContract(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	payments, err := h.Finance.ListPayments(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// CloseContract closes the contract, cancels its future installments and
// any notification still open about it.
func (h *Handler) CloseContract(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))
	var req CloseContractRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	closedOn := h.today()
	if req.ClosedOn != nil {
		closedOn = *req.ClosedOn
	}

	c, err := h.Finance.CloseContract(r.Context(), id, closedOn)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	cancelled, err := h.Pipeline.CancelForContract(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract":                toContractDTO(c),
		"cancelled_notifications": cancelled,
	})
}

func (h *Handler) ContractProfitability(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))
	p, err := h.Finance.Profitability(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfitabilityDTO(p))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	id := generic.PaymentID(chi.URLParam(r, "id"))
	var req RegisterPaymentRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	paidOn := h.today()
	if req.PaidDate != nil {
		paidOn = *req.PaidDate
	}

	p, err := h.Finance.RegisterPayment(r.Context(), id, req.Amount, paidOn)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (h *Handler) GetAccrual(w http.ResponseWriter, r *http.Request) {
	id := generic.PaymentID(chi.URLParam(r, "id"))
	asOf, err := h.dateParam(r, "as_of")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := h.Finance.ResolvePayment(r.Context(), id, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualDTO(res))
}

// =============================================================================
// USER SETTINGS HANDLERS
// =============================================================================

func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	user := generic.UserID(chi.URLParam(r, "id"))
	rates, err := h.Finance.RatesFor(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRatesDTO(rates))
}

func (h *Handler) PutRates(w http.ResponseWriter, r *http.Request) {
	user := generic.UserID(chi.URLParam(r, "id"))
	var req RatesDTO
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	rates, err := h.Finance.UpdateRates(r.Context(), req.toRateConfig(user))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRatesDTO(rates))
}

func (h *Handler) GetNotificationPolicy(w http.ResponseWriter, r *http.Request) {
	user := generic.UserID(chi.URLParam(r, "id"))
	pol, err := notify.EnsurePolicy(r.Context(), h.Store, user, h.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(pol))
}

func (h *Handler) PutNotificationPolicy(w http.ResponseWriter, r *http.Request) {
	user := generic.UserID(chi.URLParam(r, "id"))
	var req PolicyDTO
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	pol, err := notify.SavePolicy(r.Context(), h.Store, req.toPolicy(user), h.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(pol))
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	f := notify.Filter{UserID: generic.UserID(chi.URLParam(r, "id"))}
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		status := notify.Status(s)
		if !status.Valid() {
			writeDomainError(w, generic.NewInvalidInput("status", s))
			return
		}
		f.Statuses = []notify.Status{status}
	}
	if c := q.Get("category"); c != "" {
		category := notify.Category(c)
		if !category.Valid() {
			writeDomainError(w, generic.NewInvalidInput("category", c))
			return
		}
		f.Categories = []notify.Category{category}
	}
	page, err := pageParams(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	f.Page = page

	list, err := h.Store.ListNotifications(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]NotificationDTO, len(list))
	for i, n := range list {
		dtos[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := generic.NotificationID(chi.URLParam(r, "id"))
	var req MarkReadRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	n, err := h.Pipeline.MarkRead(r.Context(), id, generic.UserID(req.UserID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationDTO(n))
}

// =============================================================================
// SCAN HANDLERS
// =============================================================================

// TriggerScan runs a scan synchronously. ?date= re-runs a missed day.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	var ref *generic.Date
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := generic.ParseDate(s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ref = &d
	}

	summary, err := h.Pipeline.RunScan(r.Context(), ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListScanRuns(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if page.Limit == 0 {
		page.Limit = 50
	}
	runs, err := h.Pipeline.Runs(r.Context(), page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TOOLS
// =============================================================================

func (h *Handler) ComputeProfitability(w http.ResponseWriter, r *http.Request) {
	var req ProfitabilityRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := finance.ComputeProfitability(req.Revenues, req.Expenses)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfitabilityDTO(p))
}

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body and checks its validate tags.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return generic.NewInvalidInput("body", err.Error())
	}
	return generic.ValidateStruct(dst)
}

func (h *Handler) dateParam(r *http.Request, name string) (generic.Date, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return h.today(), nil
	}
	return generic.ParseDate(s)
}

func pageParams(r *http.Request) (generic.Page, error) {
	var p generic.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		s := q.Get(name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return generic.Page{}, generic.NewInvalidInput(name, "must be a non-negative integer")
		}
		*dst = n
	}
	return p, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrInvalidInput):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrDuplicate),
		errors.Is(err, generic.ErrInvalidTransition),
		errors.Is(err, generic.ErrScanInProgress):
		return http.StatusConflict
	case generic.IsSystemic(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeError(w, status, http.StatusText(status), err)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
