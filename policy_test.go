package rate_limiter_gate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var demoTiers = map[string]float64{
	"test-key-basic":      1,
	"test-key-premium":    2,
	"test-key-enterprise": 5,
}

func TestStaticPolicy(t *testing.T) {
	p, err := NewStaticPolicy(100, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, Quota{MaxRequests: 100, WindowLength: time.Minute}, p.Quota(RequestContext{SourceAddress: "127.0.0.1"}))
	assert.Equal(t, Quota{MaxRequests: 100, WindowLength: time.Minute}, p.Quota(RequestContext{}))
}

func TestPrivilegedIPPolicy(t *testing.T) {
	p, err := NewPrivilegedIPPolicy(100, time.Minute)
	require.NoError(t, err)

	tt := []struct {
		desc    string
		address string
		want    int64
	}{
		{desc: "ipv4 loopback", address: "127.0.0.1", want: 200},
		{desc: "ipv4 loopback with port", address: "127.0.0.1:54321", want: 200},
		{desc: "ipv6 loopback", address: "::1", want: 200},
		{desc: "bracketed ipv6 loopback", address: "[::1]:8080", want: 200},
		{desc: "ipv4 mapped loopback", address: "::ffff:127.0.0.1", want: 200},
		{desc: "private address", address: "10.0.0.1", want: 100},
		{desc: "public ipv6", address: "2001:db8::1", want: 100},
		{desc: "missing address", address: "", want: 100},
		{desc: "garbage", address: "localhost", want: 100},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			assert.Equal(t, ts.want, p.Quota(RequestContext{SourceAddress: ts.address}).MaxRequests)
		})
	}
}

func TestTieredPolicy(t *testing.T) {
	p, err := NewTieredPolicy(100, time.Minute, demoTiers)
	require.NoError(t, err)

	tt := []struct {
		desc       string
		credential string
		want       int64
	}{
		{desc: "basic", credential: "test-key-basic", want: 100},
		{desc: "premium", credential: "test-key-premium", want: 200},
		{desc: "enterprise", credential: "test-key-enterprise", want: 500},
		{desc: "absent", credential: "", want: 50},
		{desc: "unknown", credential: "who-dis", want: 50},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			q := p.Quota(RequestContext{Credential: ts.credential, SourceAddress: "10.0.0.1"})
			assert.Equal(t, ts.want, q.MaxRequests)
			assert.Equal(t, time.Minute, q.WindowLength)
		})
	}
}

func TestTieredPolicy_FloorsAndKeepsAtLeastOne(t *testing.T) {
	tt := []struct {
		desc       string
		base       int64
		anonymous  float64
		credential string
		want       int64
	}{
		{desc: "odd base is floored", base: 7, anonymous: 0.5, want: 3},
		{desc: "tiny base keeps one request", base: 1, anonymous: 0.5, want: 1},
		{desc: "zero multiplier keeps one request", base: 100, anonymous: 0, want: 1},
		{desc: "fractional tier", base: 10, anonymous: 0.5, credential: "fraction", want: 12},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			p, err := NewTieredPolicy(ts.base, time.Minute, map[string]float64{"fraction": 1.25}, WithAnonymousMultiplier(ts.anonymous))
			require.NoError(t, err)
			assert.Equal(t, ts.want, p.Quota(RequestContext{Credential: ts.credential}).MaxRequests)
		})
	}
}

func TestAdaptivePolicy(t *testing.T) {
	tt := []struct {
		desc string
		base int64
		load float64
		want int64
	}{
		{desc: "idle", base: 100, load: 0, want: 100},
		{desc: "light load", base: 100, load: 0.2, want: 100},
		{desc: "exactly half load is not reduced", base: 100, load: 0.5, want: 100},
		{desc: "moderate load", base: 100, load: 0.6, want: 80},
		{desc: "exactly 0.8 is moderate", base: 100, load: 0.8, want: 80},
		{desc: "high load", base: 100, load: 0.9, want: 50},
		{desc: "saturated sampler", base: 100, load: 7, want: 50},
		{desc: "negative sample counts as idle", base: 100, load: -1, want: 100},
		{desc: "odd base uses integer halving", base: 7, load: 0.95, want: 3},
		{desc: "odd base uses integer scaling", base: 7, load: 0.6, want: 5},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			p, err := NewAdaptivePolicy(ts.base, time.Minute, FixedLoad(ts.load))
			require.NoError(t, err)
			assert.Equal(t, ts.want, p.Quota(RequestContext{}).MaxRequests)
		})
	}
}

func TestAdaptivePolicy_SamplesEveryRequest(t *testing.T) {
	loads := []float64{0.1, 0.9, 0.6}
	calls := 0
	p, err := NewAdaptivePolicy(100, time.Minute, LoadFunc(func() float64 {
		l := loads[calls]
		calls++
		return l
	}))
	require.NoError(t, err)

	assert.Equal(t, int64(100), p.Quota(RequestContext{}).MaxRequests)
	assert.Equal(t, int64(50), p.Quota(RequestContext{}).MaxRequests)
	assert.Equal(t, int64(80), p.Quota(RequestContext{}).MaxRequests)
	assert.Equal(t, 3, calls)
}

func TestPolicyConstructors_RejectInvalidInput(t *testing.T) {
	tt := []struct {
		desc  string
		build func() error
	}{
		{desc: "zero window", build: func() error { _, err := NewStaticPolicy(10, 0); return err }},
		{desc: "sub-millisecond window", build: func() error { _, err := NewStaticPolicy(10, time.Microsecond); return err }},
		{desc: "negative base", build: func() error { _, err := NewPrivilegedIPPolicy(-1, time.Minute); return err }},
		{desc: "negative tier", build: func() error {
			_, err := NewTieredPolicy(10, time.Minute, map[string]float64{"bad": -1})
			return err
		}},
		{desc: "NaN tier", build: func() error {
			_, err := NewTieredPolicy(10, time.Minute, map[string]float64{"bad": math.NaN()})
			return err
		}},
		{desc: "negative anonymous multiplier", build: func() error {
			_, err := NewTieredPolicy(10, time.Minute, nil, WithAnonymousMultiplier(-0.5))
			return err
		}},
		{desc: "missing sampler", build: func() error { _, err := NewAdaptivePolicy(10, time.Minute, nil); return err }},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			err := ts.build()
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
		})
	}
}

func TestSkipPaths(t *testing.T) {
	skip := NewSkipPaths("/api/health", " /api/docs ", "")

	assert.True(t, skip.Skip(RequestContext{RoutePath: "/api/health"}))
	assert.True(t, skip.Skip(RequestContext{RoutePath: "/api/docs"}))
	assert.False(t, skip.Skip(RequestContext{RoutePath: "/api/user"}))
	assert.False(t, skip.Skip(RequestContext{RoutePath: "/api/health/deep"}))
	assert.False(t, skip.Skip(RequestContext{RoutePath: ""}))
}

func TestWithSkip(t *testing.T) {
	base, err := NewStaticPolicy(10, time.Minute)
	require.NoError(t, err)

	assert.Same(t, base, WithSkip(base, nil))

	p := WithSkip(base, NewSkipPaths("/api/health").Skip)
	s, ok := p.(Skipper)
	require.True(t, ok)
	assert.True(t, s.Skip(RequestContext{RoutePath: "/api/health"}))
	assert.Equal(t, int64(10), p.Quota(RequestContext{}).MaxRequests)
}
