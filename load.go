package rate_limiter_gate

import (
	"math"
	"net/http"
	"sync/atomic"
)

var (
	_ LoadSampler = FixedLoad(0)
	_ LoadSampler = LoadFunc(nil)
	_ LoadSampler = &InFlightSampler{}
)

// maxLoad is the largest float64 below 1.
var maxLoad = math.Nextafter(1, 0)

// LoadSampler reports normalized system load in [0, 1).
type LoadSampler interface {
	Sample() float64
}

// FixedLoad always reports the same load.
type FixedLoad float64

func (l FixedLoad) Sample() float64 { return clampLoad(float64(l)) }

// LoadFunc adapts a function to a LoadSampler.
type LoadFunc func() float64

func (f LoadFunc) Sample() float64 { return clampLoad(f()) }

// InFlightSampler reports the ratio of in-flight requests to capacity.
type InFlightSampler struct {
	capacity int64
	inFlight atomic.Int64
}

// NewInFlightSampler creates a sampler saturating at capacity concurrent requests.
func NewInFlightSampler(capacity int64) *InFlightSampler {
	if capacity <= 0 {
		capacity = 1
	}
	return &InFlightSampler{capacity: capacity}
}

func (s *InFlightSampler) Sample() float64 {
	return clampLoad(float64(s.inFlight.Load()) / float64(s.capacity))
}

// Acquire marks one request in flight and returns its release func.
func (s *InFlightSampler) Acquire() (release func()) {
	s.inFlight.Add(1)
	return func() { s.inFlight.Add(-1) }
}

// Track wraps next so that every request it serves counts as in flight.
func (s *InFlightSampler) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release := s.Acquire()
		defer release()
		next.ServeHTTP(w, r)
	})
}

func clampLoad(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v >= 1:
		return maxLoad
	default:
		return v
	}
}
