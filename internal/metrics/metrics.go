// Package metrics exposes Prometheus instruments for the core operations and
// the HTTP layer. Every method is safe to call on a nil *Metrics, so services
// can be constructed without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crowdops"

// Dispatch outcomes.
const (
	OutcomeAssigned   = "assigned"
	OutcomeNoFacility = "no_facility"
)

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	correlationRuns    *prometheus.CounterVec
	matchSuggestions   *prometheus.CounterVec
	matchesConfirmed   prometheus.Counter
	dispatchOutcomes   *prometheus.CounterVec
	parvaniDayActive   prometheus.Gauge
	routeCascades      prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
}

// New creates a Metrics instance on its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		correlationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_runs_total",
			Help:      "Correlation runs by subject report kind.",
		}, []string{"kind"}),
		matchSuggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_suggestions_total",
			Help:      "Candidate matches returned at or above the score threshold.",
		}, []string{"kind"}),
		matchesConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_confirmed_total",
			Help:      "Missing/found pairs confirmed and resolved.",
		}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Facility assignment attempts by outcome.",
		}, []string{"outcome"}),
		parvaniDayActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parvani_day_active",
			Help:      "1 while the Parvani-day flag is set.",
		}),
		routeCascades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_cascades_total",
			Help:      "Parvani-day cascades applied to the route registry.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route template and status.",
		}, []string{"method", "route", "status"}),
		httpRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route template.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.correlationRuns,
		m.matchSuggestions,
		m.matchesConfirmed,
		m.dispatchOutcomes,
		m.parvaniDayActive,
		m.routeCascades,
		m.httpRequests,
		m.httpRequestLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCorrelation records one correlation run and its suggestion count.
func (m *Metrics) ObserveCorrelation(kind string, suggestions int) {
	if m == nil {
		return
	}
	m.correlationRuns.WithLabelValues(kind).Inc()
	m.matchSuggestions.WithLabelValues(kind).Add(float64(suggestions))
}

// MatchConfirmed records a confirmed match.
func (m *Metrics) MatchConfirmed() {
	if m == nil {
		return
	}
	m.matchesConfirmed.Inc()
}

// DispatchOutcome records a facility assignment attempt.
func (m *Metrics) DispatchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// ParvaniDay sets the Parvani-day gauge.
func (m *Metrics) ParvaniDay(active bool) {
	if m == nil {
		return
	}
	if active {
		m.parvaniDayActive.Set(1)
	} else {
		m.parvaniDayActive.Set(0)
	}
}

// RouteCascade records a Parvani-day cascade applied to the registry.
func (m *Metrics) RouteCascade() {
	if m == nil {
		return
	}
	m.routeCascades.Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
