/*
metrics.go - Prometheus instrumentation for the HTTP surface

METRICS:
  lotsales_http_requests_total{route,method,status}
  lotsales_http_request_duration_seconds{route}
  lotsales_readjustments_applied_total{index}
  lotsales_readjustment_apply_failures_total{status}
  lotsales_readjustments_due_soon        (last early-warning run)

Each Metrics owns its registry, so several handlers (tests) never collide
on the global one. A nil *Metrics is valid and records nothing.
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terravista/lot-sales/reajuste"
)

const metricsNamespace = "lotsales"

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	applied         *prometheus.CounterVec
	applyFailures   *prometheus.CounterVec
	dueSoon         prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	m.applied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "readjustments_applied_total",
		Help:      "Readjustments committed through the API, by economic index.",
	}, []string{"index"})

	m.applyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "readjustment_apply_failures_total",
		Help:      "Rejected or failed apply calls, by HTTP status.",
	}, []string{"status"})

	m.dueSoon = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "readjustments_due_soon",
		Help:      "Readjustments due inside the early-warning window at the last check.",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal, m.requestDuration, m.applied, m.applyFailures, m.dueSoon,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records count and latency per chi route pattern, so
// /api/contracts/{id}/apply is one series regardless of id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) observeApply(rec reajuste.Record, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.applyFailures.WithLabelValues(strconv.Itoa(statusFor(err))).Inc()
		return
	}
	m.applied.WithLabelValues(string(rec.IndexName)).Inc()
}

func (m *Metrics) setDueSoon(n int) {
	if m == nil {
		return
	}
	m.dueSoon.Set(float64(n))
}
