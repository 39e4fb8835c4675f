// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	NormalizeTotal       *prometheus.CounterVec
	StoriesPerPayload    prometheus.Histogram
	RefreshTotal         *prometheus.CounterVec
	RefreshesInFlight    prometheus.Gauge
	TriggerDuration      *prometheus.HistogramVec
	RecordFetchErrors    prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		NormalizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winstory_normalize_total",
				Help: "Story payload normalizations by outcome (ok, malformed_json, unexpected_shape).",
			},
			[]string{"outcome"},
		),
		StoriesPerPayload: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "winstory_stories_per_payload",
				Help:    "Number of valid stories extracted from a payload.",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 25, 50},
			},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "winstory_refresh_total",
				Help: "Refresh cycles by outcome (started, rejected, settled, trigger_failed, ingest_failed, fetch_failed).",
			},
			[]string{"outcome"},
		),
		RefreshesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "winstory_refreshes_in_flight",
				Help: "Number of records with a refresh cycle in flight.",
			},
		),
		TriggerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "winstory_trigger_duration_seconds",
				Help:    "Latency of the story generation trigger call.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		RecordFetchErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "winstory_record_fetch_errors_total",
				Help: "Record deliveries that carried an error instead of data.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of record cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of record cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.NormalizeTotal,
		m.StoriesPerPayload,
		m.RefreshTotal,
		m.RefreshesInFlight,
		m.TriggerDuration,
		m.RecordFetchErrors,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the scrape handler for g, falling back to the default
// gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
