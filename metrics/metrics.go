// Package metrics provides Prometheus instrumentation for the engine
// (spec's DOMAIN MODULE ADDITIONS): loop iteration counters, per-tier
// token gauges, and circuit breaker state, following the teacher's
// own `pkg/observability` metrics shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics namespace.
type Config struct {
	Namespace string
	Enabled   bool
}

// SetDefaults fills in an empty namespace.
func (c *Config) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "agent_engine"
	}
}

// Metrics holds every Prometheus collector the engine exposes. A nil
// *Metrics is valid and every Record*/Set* method on it is a no-op,
// so instrumentation can be wired in optionally without nil checks at
// every call site.
type Metrics struct {
	registry *prometheus.Registry

	loopIterations   *prometheus.CounterVec
	loopTerminations *prometheus.CounterVec
	loopDuration     *prometheus.HistogramVec

	toolCalls   *prometheus.CounterVec
	toolErrors  *prometheus.CounterVec

	tierTokens *prometheus.GaugeVec

	breakerState    *prometheus.GaugeVec
	breakerTrips    *prometheus.CounterVec

	errorLoops *prometheus.CounterVec
}

// New constructs a Metrics instance, or returns nil if cfg is nil or
// disabled.
func New(cfg *Config) *Metrics {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	cfg.SetDefaults()

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.loopIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "loop", Name: "iterations_total",
		Help: "Total number of THINK/GENERATE/ACT/OBSERVE/DECIDE iterations run.",
	}, []string{"session_id"})

	m.loopTerminations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "loop", Name: "terminations_total",
		Help: "Total number of loop runs by terminal event kind.",
	}, []string{"kind"})

	m.loopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: "loop", Name: "run_duration_seconds",
		Help:    "Wall-clock duration of a complete loop run.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool dispatches.",
	}, []string{"tool"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of failed tool dispatches.",
	}, []string{"tool"})

	m.tierTokens = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: "context", Name: "tier_tokens",
		Help: "Current token usage per memory tier.",
	}, []string{"tier"})

	m.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: "adapter", Name: "circuit_breaker_state",
		Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
	}, []string{"name"})

	m.breakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "adapter", Name: "circuit_breaker_trips_total",
		Help: "Total number of times a circuit breaker opened.",
	}, []string{"name"})

	m.errorLoops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "monitor", Name: "error_loops_detected_total",
		Help: "Total number of repeated-identical-error loops detected.",
	}, []string{"scope"})

	m.registry.MustRegister(
		m.loopIterations, m.loopTerminations, m.loopDuration,
		m.toolCalls, m.toolErrors, m.tierTokens,
		m.breakerState, m.breakerTrips, m.errorLoops,
	)

	return m
}

// BreakerStateValue maps a circuit breaker state name to the gauge
// value convention documented above.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default: // closed
		return 0
	}
}

func (m *Metrics) IncLoopIteration(sessionID string) {
	if m == nil {
		return
	}
	m.loopIterations.WithLabelValues(sessionID).Inc()
}

func (m *Metrics) RecordLoopTermination(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.loopTerminations.WithLabelValues(kind).Inc()
	m.loopDuration.WithLabelValues(kind).Observe(durationSeconds)
}

func (m *Metrics) RecordToolCall(tool string, success bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
	if !success {
		m.toolErrors.WithLabelValues(tool).Inc()
	}
}

func (m *Metrics) SetTierTokens(tier string, tokens int) {
	if m == nil {
		return
	}
	m.tierTokens.WithLabelValues(tier).Set(float64(tokens))
}

func (m *Metrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(BreakerStateValue(state))
	if state == "open" {
		m.breakerTrips.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) RecordErrorLoop(scope string) {
	if m == nil {
		return
	}
	m.errorLoops.WithLabelValues(scope).Inc()
}

// Handler returns an http.Handler serving this registry's metrics in
// the Prometheus exposition format, for mounting at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry, e.g. for tests
// that want to scrape collected values directly.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
