/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  zap request logging, request-scoped logger in context
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. Metrics:        Prometheus request counters (when Handler.Metrics is set)
  5. CORS:           Cross-origin requests for a browser front end

ROUTE GROUPS:
  /api/parameters        Readjustment parameters
  /api/indices           Economic index snapshots
  /api/contracts/*       Contracts and per-contract readjustment
  /api/forecast          Portfolio forecast
  /api/reports/*         History reports
  /api/alerts            Early-warning results
  /api/scenarios/*       Demo scenarios
  /metrics               Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when no CORS origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/parameters", h.GetParameters)
		r.Put("/parameters", h.UpdateParameters)

		r.Route("/indices", func(r chi.Router) {
			r.Get("/", h.GetLatestIndices)
			r.Post("/", h.RecordIndices)
			r.Get("/history", h.GetIndexHistory)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.SaveContract)
			r.Get("/{id}", h.GetContract)
			r.Get("/{id}/state", h.GetContractState)
			r.Post("/{id}/simulate", h.SimulateReadjustment)
			r.Post("/{id}/apply", h.ApplyReadjustment)
			r.Get("/{id}/history", h.GetContractHistory)
		})

		r.Get("/forecast", h.Forecast)
		r.Get("/reports/readjustments", h.ReadjustmentReport)
		r.Get("/alerts", h.GetAlerts)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenarioHandler)
			r.Post("/reset", h.ResetStore)
		})
	})

	return r
}
