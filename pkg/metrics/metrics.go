// Package metrics defines the Prometheus collectors used by the metric
// engine, the template builder and the index pipeline, and exposes an HTTP
// handler for scraping. A nil *Metrics is valid and records nothing, which
// keeps library callers free of metrics plumbing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the indexer.
type Metrics struct {
	StageDuration        *prometheus.HistogramVec
	StageItemsTotal      *prometheus.CounterVec
	FactsPersistedTotal  *prometheus.CounterVec
	TemplatesBuiltTotal  *prometheus.CounterVec
	TemplateCacheTotal   *prometheus.CounterVec
	EntitiesIndexed      *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	CircuitBreakerState  *prometheus.GaugeVec
	BreakerRejectedTotal *prometheus.CounterVec

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates and registers all collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates the collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kg_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
			},
			[]string{"pipeline", "stage"},
		),
		StageItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_stage_items_total",
				Help: "Work items processed per stage.",
			},
			[]string{"stage"},
		),
		FactsPersistedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_facts_persisted_total",
				Help: "Facts appended to the fact store by metric.",
			},
			[]string{"metric"},
		),
		TemplatesBuiltTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_templates_built_total",
				Help: "Templates built by scope and status (ok, fallback, error).",
			},
			[]string{"scope", "status"},
		),
		TemplateCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_template_cache_requests_total",
				Help: "Template cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		EntitiesIndexed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_entities_indexed_total",
				Help: "Entities processed by the index pipeline by status.",
			},
			[]string{"status"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kg_search_latency_seconds",
				Help:    "Connector search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"backend"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kg_circuit_breaker_state",
				Help: "Cache backend circuit state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"backend"},
		),
		BreakerRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_circuit_breaker_rejected_total",
				Help: "Cache backend calls refused by an open circuit.",
			},
			[]string{"backend", "op"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kg_http_requests_total",
				Help: "HTTP requests served by the template API.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kg_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kg_http_requests_in_flight",
				Help: "HTTP requests currently being served.",
			},
		),
	}

	reg.MustRegister(
		m.StageDuration,
		m.StageItemsTotal,
		m.FactsPersistedTotal,
		m.TemplatesBuiltTotal,
		m.TemplateCacheTotal,
		m.EntitiesIndexed,
		m.SearchLatency,
		m.CircuitBreakerState,
		m.BreakerRejectedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(pipeline, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

// AddStageItems counts processed work items.
func (m *Metrics) AddStageItems(stage string, n int) {
	if m == nil {
		return
	}
	m.StageItemsTotal.WithLabelValues(stage).Add(float64(n))
}

// AddFacts counts persisted facts.
func (m *Metrics) AddFacts(metric string, n int) {
	if m == nil {
		return
	}
	m.FactsPersistedTotal.WithLabelValues(metric).Add(float64(n))
}

func (m *Metrics) TemplateBuilt(scope, status string) {
	if m == nil {
		return
	}
	m.TemplatesBuiltTotal.WithLabelValues(scope, status).Inc()
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TemplateCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) EntityIndexed(status string) {
	if m == nil {
		return
	}
	m.EntitiesIndexed.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSearch(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchLatency.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerState(backend string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(backend).Set(float64(state))
}

func (m *Metrics) BreakerRejected(backend, op string) {
	if m == nil {
		return
	}
	m.BreakerRejectedTotal.WithLabelValues(backend, op).Inc()
}

// TrackHTTP marks a request in flight. The returned func records it as
// finished.
func (m *Metrics) TrackHTTP() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPRequestsInFlight.Inc()
	return m.HTTPRequestsInFlight.Dec
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
