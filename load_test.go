package rate_limiter_gate

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampLoad(t *testing.T) {
	assert.Equal(t, 0.0, clampLoad(-0.1))
	assert.Equal(t, 0.0, clampLoad(math.NaN()))
	assert.Equal(t, 0.42, clampLoad(0.42))
	assert.Less(t, clampLoad(1), 1.0)
	assert.Less(t, clampLoad(math.Inf(1)), 1.0)
	assert.Greater(t, clampLoad(1), 0.99)
}

func TestInFlightSampler(t *testing.T) {
	s := NewInFlightSampler(4)
	assert.Equal(t, 0.0, s.Sample())

	release1 := s.Acquire()
	release2 := s.Acquire()
	assert.Equal(t, 0.5, s.Sample())

	release3 := s.Acquire()
	release4 := s.Acquire()
	s.Acquire()
	assert.Less(t, s.Sample(), 1.0)
	assert.Greater(t, s.Sample(), 0.8)

	release1()
	release2()
	release3()
	release4()
	assert.Equal(t, 0.25, s.Sample())
}

func TestInFlightSampler_Track(t *testing.T) {
	s := NewInFlightSampler(2)

	var during float64
	h := s.Track(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = s.Sample()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/intensive", nil))

	assert.Equal(t, 0.5, during)
	assert.Equal(t, 0.0, s.Sample())
}

func TestInFlightSampler_NonPositiveCapacity(t *testing.T) {
	s := NewInFlightSampler(0)
	release := s.Acquire()
	defer release()

	assert.Less(t, s.Sample(), 1.0)
	assert.Greater(t, s.Sample(), 0.8)
}
