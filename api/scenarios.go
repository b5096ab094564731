/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	rental data. Each scenario creates contracts for one manager, pays part
	of the schedule and refreshes accruals, so the next scan has something
	to notify about.

AVAILABLE SCENARIOS:

	on-time-tenant:    Every past installment paid on its due date
	late-payer:        Latest installment 20 days overdue, one paid late
	expiring-contract: Lease ending in three weeks
	portfolio:         All of the above under one manager

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Store rates and a notification policy for the demo manager
 3. Create contracts relative to today
 4. Register payments for the installments that were paid
 5. Refresh accruals so overdue installments carry interest and penalty

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "late-payer"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add the loader to 'scenarioLoaders'

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the endpoints scenarios feed
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/notify"
)

// DemoManager owns every scenario contract.
const DemoManager generic.UserID = "manager-demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "on-time-tenant",
		Name:        "On-Time Tenant",
		Description: "Year-long lease, every past installment paid on its due date",
	},
	{
		ID:          "late-payer",
		Name:        "Late Payer",
		Description: "Latest installment 20 days overdue, earlier one paid late",
	},
	{
		ID:          "expiring-contract",
		Name:        "Expiring Contract",
		Description: "Lease ending in three weeks with rent due in a few days",
	},
	{
		ID:          "portfolio",
		Name:        "Portfolio",
		Description: "All scenarios under the same manager",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, today generic.Date) error

var scenarioLoaders = map[string]scenarioLoader{
	"on-time-tenant":    (*Handler).loadOnTimeTenant,
	"late-payer":        (*Handler).loadLatePayer,
	"expiring-contract": (*Handler).loadExpiringContract,
	"portfolio":         (*Handler).loadPortfolio,
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if err := h.seedManager(ctx); err != nil {
		writeDomainError(w, err)
		return
	}
	today := h.today()
	if err := load(h, ctx, today); err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.Finance.RefreshAccruals(ctx, today); err != nil {
		writeDomainError(w, err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Log.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"user_id":  string(DemoManager),
	})
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) seedManager(ctx context.Context) error {
	rates := finance.DefaultRates(DemoManager)
	if _, err := h.Finance.UpdateRates(ctx, rates); err != nil {
		return err
	}
	_, err := notify.SavePolicy(ctx, h.Store, notify.DefaultPolicy(DemoManager), h.Now())
	return err
}

func (h *Handler) loadOnTimeTenant(ctx context.Context, today generic.Date) error {
	_, schedule, err := h.createDemoContract(ctx, "apt-101", "tenant-ana", "1500.00",
		today.AddMonths(-6).MonthStart(), today.AddMonths(6).MonthStart().AddDays(-1), 5)
	if err != nil {
		return err
	}
	for _, p := range schedule {
		if !p.DueDate.Before(today) {
			continue
		}
		if _, err := h.Finance.RegisterPayment(ctx, p.ID, p.Amount, p.DueDate); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadLatePayer(ctx context.Context, today generic.Date) error {
	dueDay := today.AddDays(-20).Day()
	_, schedule, err := h.createDemoContract(ctx, "apt-202", "tenant-bruno", "2200.00",
		today.AddMonths(-4).MonthStart(), today.AddMonths(8).MonthStart().AddDays(-1), dueDay)
	if err != nil {
		return err
	}

	var past []finance.Payment
	for _, p := range schedule {
		if p.DueDate.Before(today) {
			past = append(past, p)
		}
	}
	// Latest past installment stays open; the one before it was paid a
	// week late.
	for i, p := range past {
		switch {
		case i == len(past)-1:
			continue
		case i == len(past)-2:
			_, err = h.Finance.RegisterPayment(ctx, p.ID, p.Amount, p.DueDate.AddDays(7))
		default:
			_, err = h.Finance.RegisterPayment(ctx, p.ID, p.Amount, p.DueDate)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadExpiringContract(ctx context.Context, today generic.Date) error {
	end := today.AddDays(21)
	_, schedule, err := h.createDemoContract(ctx, "apt-303", "tenant-carla", "980.00",
		end.AddMonths(-12).AddDays(1), end, today.AddDays(2).Day())
	if err != nil {
		return err
	}
	for _, p := range schedule {
		if !p.DueDate.Before(today) {
			continue
		}
		if _, err := h.Finance.RegisterPayment(ctx, p.ID, p.Amount, p.DueDate); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadPortfolio(ctx context.Context, today generic.Date) error {
	for _, load := range []scenarioLoader{
		(*Handler).loadOnTimeTenant,
		(*Handler).loadLatePayer,
		(*Handler).loadExpiringContract,
	} {
		if err := load(h, ctx, today); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createDemoContract(ctx context.Context, property, tenant, rent string, start, end generic.Date, dueDay int) (finance.Contract, []finance.Payment, error) {
	deposit := generic.MustParseDecimal(rent).Mul(decimal.NewFromInt(2))
	return h.Finance.CreateContract(ctx, finance.Contract{
		PropertyID: generic.PropertyID(property),
		TenantID:   generic.TenantID(tenant),
		ManagerID:  DemoManager,
		RentAmount: generic.MustParseDecimal(rent),
		Deposit:    &deposit,
		StartDate:  start,
		EndDate:    end,
		DueDay:     dueDay,
		Notes:      "demo",
	})
}
