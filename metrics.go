package rate_limiter_gate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for the limiter. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	decisions      *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	storeFallbacks *prometheus.CounterVec
	storeDegraded  *prometheus.GaugeVec
	decideDuration *prometheus.HistogramVec
}

// NewMetrics registers the limiter collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Total number of rate limit decisions by rule and result",
			},
			[]string{"rule", "result"},
		),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_skipped_total",
				Help: "Total number of requests exempted by a skip predicate",
			},
			[]string{"rule"},
		),
		storeFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_store_fallbacks_total",
				Help: "Total number of increments served by the local store instead of the remote backend",
			},
			[]string{"backend"},
		),
		storeDegraded: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ratelimit_store_degraded",
				Help: "1 while the counter store runs on local state only",
			},
			[]string{"backend"},
		),
		decideDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimit_decide_duration_seconds",
				Help:    "Latency of rate limit decisions including the store round trip",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"rule"},
		),
	}
}

// ObserveDecision records a decision and its latency.
func (m *Metrics) ObserveDecision(rule string, d Decision, took time.Duration) {
	if m == nil {
		return
	}
	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	m.decisions.WithLabelValues(rule, result).Inc()
	m.decideDuration.WithLabelValues(rule).Observe(took.Seconds())
}

// ObserveSkip records a request exempted by a skip predicate.
func (m *Metrics) ObserveSkip(rule string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(rule).Inc()
}

// ObserveFallback records one increment served locally.
func (m *Metrics) ObserveFallback(backend string) {
	if m == nil {
		return
	}
	m.storeFallbacks.WithLabelValues(backend).Inc()
}

// SetDegraded flips the degraded gauge for backend.
func (m *Metrics) SetDegraded(backend string, degraded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	m.storeDegraded.WithLabelValues(backend).Set(v)
}
