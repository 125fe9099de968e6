package rate_limiter_gate

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveDecision("message", Decision{Allowed: true}, time.Millisecond)
		m.ObserveSkip("global")
		m.ObserveFallback("redis")
		m.SetDegraded("redis", true)
	})
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveDecision("message", Decision{Allowed: true}, time.Millisecond)
	m.ObserveDecision("message", Decision{Allowed: true}, time.Millisecond)
	m.ObserveDecision("message", Decision{Allowed: false}, time.Millisecond)
	m.ObserveSkip("global")
	m.ObserveFallback("redis")
	m.ObserveFallback("redis")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("message", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("message", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("global")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.storeFallbacks.WithLabelValues("redis")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.decideDuration))

	m.SetDegraded("redis", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeDegraded.WithLabelValues("redis")))
	m.SetDegraded("redis", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeDegraded.WithLabelValues("redis")))
}
