// Package metrics provides the engine's Prometheus collectors and the
// minimal admin HTTP surface from spec §12: /healthz, /metrics, and
// /jobs/{prefix} — not the dashboard (out of scope), just enough for
// operators and for surfaces that are out of scope but need something to
// poll in absence of a richer protocol.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepresearch/engine/internal/facade"
)

// Metrics holds the engine's Prometheus collectors, grounded on the
// teacher's infrastructure/metrics.Metrics shape (one struct, one New,
// MustRegister at construction).
type Metrics struct {
	QueueDepth       *prometheus.GaugeVec
	SpendUSD         *prometheus.GaugeVec
	ProviderLatency  *prometheus.HistogramVec
	JobsTotal        *prometheus.CounterVec
	CircuitBreaker   prometheus.Gauge
}

// New builds a Metrics instance registered against registerer, or the
// default Prometheus registry when registerer is nil.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_queue_depth",
				Help: "Number of jobs currently in each status.",
			},
			[]string{"status"},
		),
		SpendUSD: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_spend_usd",
				Help: "Realized spend in US dollars for the current period.",
			},
			[]string{"period"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_provider_latency_seconds",
				Help:    "Observed provider completion latency.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 600, 1200, 3600},
			},
			[]string{"provider", "model"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_jobs_total",
				Help: "Total jobs by terminal status.",
			},
			[]string{"status"},
		),
		CircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_circuit_breaker_open",
				Help: "1 if the provider circuit breaker is currently tripped, else 0.",
			},
		),
	}
	registerer.MustRegister(m.QueueDepth, m.SpendUSD, m.ProviderLatency, m.JobsTotal, m.CircuitBreaker)
	return m
}

// SetQueueDepth records the current job count for a status.
func (m *Metrics) SetQueueDepth(status string, count int) {
	m.QueueDepth.WithLabelValues(status).Set(float64(count))
}

// SetSpend records realized spend for a named period ("day" or "month").
func (m *Metrics) SetSpend(period string, amountUSD float64) {
	m.SpendUSD.WithLabelValues(period).Set(amountUSD)
}

// ObserveProviderLatency records one completed job's end-to-end latency.
func (m *Metrics) ObserveProviderLatency(providerName, model string, d time.Duration) {
	m.ProviderLatency.WithLabelValues(providerName, model).Observe(d.Seconds())
}

// IncJobTerminal increments the terminal-status counter.
func (m *Metrics) IncJobTerminal(status string) {
	m.JobsTotal.WithLabelValues(status).Inc()
}

// SetCircuitBreakerOpen records the Governor's breaker state.
func (m *Metrics) SetCircuitBreakerOpen(open bool) {
	if open {
		m.CircuitBreaker.Set(1)
		return
	}
	m.CircuitBreaker.Set(0)
}

// NewAdminRouter builds the admin HTTP surface: GET /healthz, GET /metrics,
// GET /jobs/{prefix}. Grounded on the teacher's infrastructure/service.Runner
// pattern of exposing promhttp.Handler() on a gorilla/mux router.
func NewAdminRouter(f *facade.Facade, gatherer prometheus.Gatherer) *mux.Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := mux.NewRouter()
	r.Handle("/healthz", healthzHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{prefix}", jobLookupHandler(f)).Methods(http.MethodGet)
	return r
}

func healthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

func jobLookupHandler(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := mux.Vars(r)["prefix"]
		j, err := f.Get(r.Context(), prefix)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(j)
	}
}
