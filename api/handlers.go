/*
handlers.go - HTTP API handlers for the contract readjustment engine

PURPOSE:
  Exposes the readjustment engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Parameters:
    GET    /api/parameters               Current readjustment parameters
    PUT    /api/parameters               Replace parameters

  Indices:
    GET    /api/indices                  Latest index snapshot
    GET    /api/indices/history          Every recorded snapshot
    POST   /api/indices                  Record a new snapshot

  Contracts:
    GET    /api/contracts                List contracts
    POST   /api/contracts                Create or replace a contract
    GET    /api/contracts/{id}           Contract details
    GET    /api/contracts/{id}/state     Cycle state (exhausted/pending/applied)
    POST   /api/contracts/{id}/simulate  Preview with optional overrides
    POST   /api/contracts/{id}/apply     Commit the pending readjustment
    GET    /api/contracts/{id}/history   Applied readjustments

  Portfolio:
    GET    /api/forecast                 Previews for ?from=&to= (YYYY-MM-DD)
    GET    /api/reports/readjustments    Filtered history report
    GET    /api/alerts                   Last early-warning run

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario
    POST   /api/scenarios/reset          Clear all data

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: persistence (contracts, parameters, indices, records)
  - Engine: forecast / simulate / apply
  - Reporter: history and reports
  - Alerts: optional early-warning scheduler
  - Metrics: Prometheus counters (apply outcomes)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown index, malformed input
  - 404: Contract not found
  - 409: Installment already readjusted
  - 422: No pending readjustment (contract exhausted)
  - 503: Contract busy (lock wait expired)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/logger"
	"github.com/terravista/lot-sales/reajuste"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is everything the HTTP layer needs from persistence.
type Backend interface {
	reajuste.Store
	reajuste.ContractWriter
	Reset(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store    Backend
	Engine   *reajuste.Engine
	Reporter *reajuste.Reporter
	Alerts   *EarlyWarningScheduler
	Metrics  *Metrics

	clock func() time.Time
	log   *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. engine must be built over store.
func NewHandler(store Backend, engine *reajuste.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Engine:   engine,
		Reporter: reajuste.NewReporter(store, store, time.Now),
		Metrics:  NewMetrics(),
		clock:    time.Now,
		log:      log,
	}
}

func (h *Handler) today() generic.TimePoint {
	return generic.FromTime(h.clock())
}

// =============================================================================
// PARAMETER HANDLERS
// =============================================================================

func (h *Handler) GetParameters(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Parameters().Get(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to load parameters", err)
		return
	}
	writeJSON(w, http.StatusOK, toParametersDTO(p))
}

func (h *Handler) UpdateParameters(w http.ResponseWriter, r *http.Request) {
	var req UpdateParametersRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	current, err := h.Engine.Parameters().Get(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to load parameters", err)
		return
	}
	if req.IndexName != nil {
		current.IndexName = reajuste.IndexName(strings.ToUpper(*req.IndexName))
	}
	if req.AdditionalPercent != nil {
		current.AdditionalPercent = *req.AdditionalPercent
	}
	if req.InstallmentInterval != nil {
		current.InstallmentInterval = *req.InstallmentInterval
	}
	if req.EarlyWarningDays != nil {
		current.EarlyWarningDays = *req.EarlyWarningDays
	}

	saved, err := h.Engine.Parameters().Set(r.Context(), current)
	if err != nil {
		h.writeDomainError(w, r, "failed to save parameters", err)
		return
	}
	logger.FromContext(r.Context()).Info("parameters updated",
		zap.String("index", string(saved.IndexName)),
		zap.String("additional_percent", saved.AdditionalPercent.String()),
		zap.Int("interval", saved.InstallmentInterval))
	writeJSON(w, http.StatusOK, toParametersDTO(saved))
}

// =============================================================================
// INDEX HANDLERS
// =============================================================================

func (h *Handler) GetLatestIndices(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Engine.Indices().Latest(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to load indices", err)
		return
	}
	writeJSON(w, http.StatusOK, toIndexSnapshotDTO(snap))
}

func (h *Handler) GetIndexHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Engine.Indices().History(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to load index history", err)
		return
	}
	out := make([]IndexSnapshotDTO, len(snaps))
	for i, s := range snaps {
		out[i] = toIndexSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) RecordIndices(w http.ResponseWriter, r *http.Request) {
	var req RecordIndicesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	effective := h.today()
	if req.EffectiveDate != "" {
		d, err := generic.ParseDate(req.EffectiveDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid effective_date (use YYYY-MM-DD)", err)
			return
		}
		effective = d
	}

	values := make(map[reajuste.IndexName]decimal.Decimal, len(req.Values))
	for name, v := range req.Values {
		values[reajuste.IndexName(strings.ToUpper(name))] = v
	}

	snap, err := h.Engine.Indices().Record(r.Context(), reajuste.IndexSnapshot{
		Values:        values,
		EffectiveDate: effective,
		Source:        req.Source,
	})
	if err != nil {
		h.writeDomainError(w, r, "failed to record indices", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIndexSnapshotDTO(snap))
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contracts", err)
		return
	}
	out := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		out[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetContract(r.Context(), contractID(r))
	if err != nil {
		h.writeDomainError(w, r, "failed to load contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(c))
}

func (h *Handler) SaveContract(w http.ResponseWriter, r *http.Request) {
	var req SaveContractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := req.toContract()
	if err != nil {
		h.writeDomainError(w, r, "invalid contract", err)
		return
	}

	// Keep the display summary of an existing contract.
	if existing, err := h.Store.GetContract(r.Context(), c.ID); err == nil {
		c.LastAdjustment = existing.LastAdjustment
	} else if !generic.IsNotFound(err) {
		h.writeDomainError(w, r, "failed to load contract", err)
		return
	}

	if err := h.Store.SaveContract(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(c))
}

func (req SaveContractRequest) toContract() (reajuste.Contract, error) {
	if err := validateRequest(req); err != nil {
		return reajuste.Contract{}, err
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		return reajuste.Contract{}, &reajuste.ValidationError{Field: "start_date", Message: "start_date must be YYYY-MM-DD"}
	}
	if req.EntryValue.IsNegative() || req.TotalValue.LessThan(req.EntryValue) {
		return reajuste.Contract{}, &reajuste.ValidationError{Field: "total_value", Message: "total_value must be at least entry_value and entry_value non-negative"}
	}
	status := reajuste.ContractStatus(req.Status)
	if status == "" {
		status = reajuste.ContractActive
	}
	return reajuste.Contract{
		ID:                reajuste.ContractID(req.ID),
		ClientName:        req.ClientName,
		LotCode:           req.LotCode,
		StartDate:         start,
		TotalInstallments: req.TotalInstallments,
		PaidInstallments:  req.PaidInstallments,
		TotalValue:        req.TotalValue,
		EntryValue:        req.EntryValue,
		Status:            status,
	}, nil
}

func (h *Handler) GetContractState(w http.ResponseWriter, r *http.Request) {
	id := contractID(r)
	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "failed to load contract", err)
		return
	}
	state, next, err := h.Engine.State(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "failed to compute state", err)
		return
	}
	writeJSON(w, http.StatusOK, ContractStateDTO{
		ContractID:           string(id),
		State:                string(state),
		ReferenceInstallment: next,
		TotalInstallments:    c.TotalInstallments,
	})
}

func (h *Handler) SimulateReadjustment(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	rec, err := h.Engine.Simulate(r.Context(), contractID(r), req.toOverrides())
	if err != nil {
		h.writeDomainError(w, r, "simulation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReadjustmentDTO(rec))
}

func (h *Handler) ApplyReadjustment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Apply(r.Context(), contractID(r))
	h.Metrics.observeApply(rec, err)
	if err != nil {
		h.writeDomainError(w, r, "apply failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReadjustmentDTO(rec))
}

func (h *Handler) GetContractHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Reporter.HistoryForContract(r.Context(), contractID(r))
	if err != nil {
		h.writeDomainError(w, r, "failed to load history", err)
		return
	}
	writeJSON(w, http.StatusOK, toReadjustmentDTOs(recs))
}

// =============================================================================
// PORTFOLIO HANDLERS
// =============================================================================

// Forecast defaults to [today, today+earlyWarningDays] when from/to are
// omitted.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	window, err := h.forecastWindow(r)
	if err != nil {
		h.writeDomainError(w, r, "invalid forecast window", err)
		return
	}
	recs, err := h.Engine.Forecast(r.Context(), window)
	if err != nil {
		h.writeDomainError(w, r, "forecast failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ForecastResponse{
		From:  window.Start.String(),
		To:    window.End.String(),
		Count: len(recs),
		Items: toReadjustmentDTOs(recs),
	})
}

func (h *Handler) forecastWindow(r *http.Request) (generic.Window, error) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" && to == "" {
		p, err := h.Engine.Parameters().Get(r.Context())
		if err != nil {
			return generic.Window{}, err
		}
		return generic.DaysFrom(h.today(), p.EarlyWarningDays), nil
	}
	if from == "" || to == "" {
		return generic.Window{}, &reajuste.ValidationError{Field: "window", Message: "both from and to are required"}
	}
	start, err := parseDateParam("from", from)
	if err != nil {
		return generic.Window{}, err
	}
	end, err := parseDateParam("to", to)
	if err != nil {
		return generic.Window{}, err
	}
	return generic.NewWindow(start, end)
}

func (h *Handler) ReadjustmentReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := reajuste.RecordFilter{
		ContractID: reajuste.ContractID(q.Get("contract_id")),
		IndexName:  reajuste.IndexName(strings.ToUpper(q.Get("index"))),
		Status:     reajuste.RecordStatus(q.Get("status")),
	}
	for _, p := range []struct {
		name string
		dst  **generic.TimePoint
	}{{"from", &f.From}, {"to", &f.To}} {
		if raw := q.Get(p.name); raw != "" {
			d, err := parseDateParam(p.name, raw)
			if err != nil {
				h.writeDomainError(w, r, "invalid report filter", err)
				return
			}
			*p.dst = &d
		}
	}

	report, err := h.Reporter.BuildReport(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, "report failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Alerts == nil {
		writeError(w, http.StatusNotFound, "early-warning scheduler is not running", nil)
		return
	}
	run, ok := h.Alerts.Last()
	if !ok {
		run = h.Alerts.RunOnce(r.Context())
	}
	writeJSON(w, http.StatusOK, toAlertRunDTO(run))
}

// =============================================================================
// HELPERS
// =============================================================================

func contractID(r *http.Request) reajuste.ContractID {
	return reajuste.ContractID(chi.URLParam(r, "id"))
}

func parseDateParam(field, raw string) (generic.TimePoint, error) {
	d, err := generic.ParseDate(raw)
	if err != nil {
		return generic.TimePoint{}, &reajuste.ValidationError{Field: field, Message: fmt.Sprintf("%s must be YYYY-MM-DD", field)}
	}
	return d, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps error categories to HTTP status codes. Duplicate
// application is checked before the business-rule category it also wraps.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, generic.ErrBusinessRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
