/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built portfolios that populate the store with realistic
	data for testing and demos. Each scenario sets parameters, records an
	index snapshot and creates contracts that exercise a specific case.

AVAILABLE SCENARIOS:

	first-readjustment: one contract reaching its 12th installment
	                    (IGPM 5.5 + 6% turns 1000.00 into 1115.00)
	portfolio:          mixed portfolio for forecast windows and reports
	exhausted:          fully paid contract with nothing left to readjust

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Save parameters
 3. Record the index snapshot
 4. Save contracts

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "portfolio"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: endpoints that read the loaded data
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	indexDate string
	indices   map[reajuste.IndexName]string
	contracts []reajuste.Contract
}

func lot(id, client, code, start string, total, paid int, value, entry string) reajuste.Contract {
	return reajuste.Contract{
		ID:                reajuste.ContractID(id),
		ClientName:        client,
		LotCode:           code,
		StartDate:         generic.MustDate(start),
		TotalInstallments: total,
		PaidInstallments:  paid,
		TotalValue:        generic.MustParseDecimal(value),
		EntryValue:        generic.MustParseDecimal(entry),
		Status:            reajuste.ContractActive,
	}
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-readjustment",
			Name:        "First Readjustment",
			Description: "24-installment contract started 2023-01-10 with 11 paid; installment 12 is readjusted on 2023-12-10",
		},
		indexDate: "2023-11-01",
		indices:   map[reajuste.IndexName]string{reajuste.IndexIGPM: "5.5", reajuste.IndexIPCA: "4.62"},
		contracts: []reajuste.Contract{
			lot("C-1001", "Maria Souza", "Q1-L07", "2023-01-10", 24, 11, "34000.00", "10000.00"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "portfolio",
			Name:        "Mixed Portfolio",
			Description: "Contracts due in December 2023, one due in January 2024, one exhausted and one settled",
		},
		indexDate: "2023-11-01",
		indices: map[reajuste.IndexName]string{
			reajuste.IndexIGPM: "5.5", reajuste.IndexIPCA: "4.62", reajuste.IndexINPC: "4.48", reajuste.IndexINCC: "5.20", reajuste.IndexIGPDI: "4.30",
		},
		contracts: []reajuste.Contract{
			lot("C-2001", "Ana Lima", "Q2-L01", "2023-01-10", 24, 11, "34000.00", "10000.00"),
			lot("C-2002", "Bruno Alves", "Q2-L02", "2023-02-05", 36, 11, "58000.00", "4000.00"),
			lot("C-2003", "Carla Dias", "Q2-L03", "2021-12-01", 24, 24, "30000.00", "6000.00"),
			lot("C-2004", "Diego Rocha", "Q2-L04", "2022-01-20", 48, 23, "96000.00", "12000.00"),
			func() reajuste.Contract {
				c := lot("C-2005", "Elisa Prado", "Q2-L05", "2023-01-15", 24, 11, "28000.00", "4000.00")
				c.Status = reajuste.ContractSettled
				return c
			}(),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "exhausted",
			Name:        "Exhausted Contract",
			Description: "All 24 installments paid; the next reference installment (36) is past the end",
		},
		indexDate: "2023-11-01",
		indices:   map[reajuste.IndexName]string{reajuste.IndexIGPM: "5.5"},
		contracts: []reajuste.Contract{
			lot("C-3001", "Fabio Nunes", "Q3-L01", "2022-01-10", 24, 24, "34000.00", "10000.00"),
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO LOADING
// =============================================================================

// LoadScenario resets the store and loads the named scenario.
func (h *Handler) LoadScenario(ctx context.Context, id string) error {
	s, ok := findScenario(id)
	if !ok {
		return fmt.Errorf("%w: unknown scenario %q", generic.ErrNotFound, id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if _, err := h.Engine.Parameters().Set(ctx, reajuste.DefaultParameters()); err != nil {
		return fmt.Errorf("parameters: %w", err)
	}

	values := make(map[reajuste.IndexName]decimal.Decimal, len(s.indices))
	for name, v := range s.indices {
		values[name] = generic.MustParseDecimal(v)
	}
	if _, err := h.Engine.Indices().Record(ctx, reajuste.IndexSnapshot{
		Values:        values,
		EffectiveDate: generic.MustDate(s.indexDate),
		Source:        "scenario:" + s.ID,
	}); err != nil {
		return fmt.Errorf("indices: %w", err)
	}

	for _, c := range s.contracts {
		if err := h.Store.SaveContract(ctx, c); err != nil {
			return fmt.Errorf("contract %s: %w", c.ID, err)
		}
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()
	h.log.Info("scenario loaded", zap.String("scenario_id", s.ID), zap.Int("contracts", len(s.contracts)))
	return nil
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	id := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": id})
}

func (h *Handler) LoadScenarioHandler(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validateRequest(req); err != nil {
		h.writeDomainError(w, r, "invalid request body", err)
		return
	}
	if err := h.LoadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeDomainError(w, r, "failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset store", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
