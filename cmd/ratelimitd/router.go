package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/aryangodara/rate_limiter_gate"
	"github.com/aryangodara/rate_limiter_gate/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type server struct {
	cfg      *config.Config
	gates    gateSet
	sampler  *rate_limiter_gate.InFlightSampler
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	started  time.Time
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.gates[ruleGlobal].Middleware())

	r.Get("/", s.handleRoot)
	r.Route("/api", func(r chi.Router) {
		r.With(s.gates[ruleMessage].Middleware()).Get("/message", s.handleMessage)
		r.With(s.sampler.Track, s.gates[ruleIntensive].Middleware()).Get("/intensive", s.handleIntensive)
		r.With(s.gates[ruleUser].Middleware()).Get("/user", s.handleUser)
		r.With(s.gates[ruleIPLimited].Middleware()).Get("/ip-limited", s.handleIPLimited)
		r.Get("/health", s.handleHealth)
		r.Get("/docs", s.handleDocs)
	})

	if s.cfg.Server.AdminToken != "" {
		r.Delete("/admin/limits/{rule}/{key}", s.handleReset)
	}
	if s.cfg.Metrics.IsEnabled() && s.gatherer != nil {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Rate Limiter Microservice",
		"documentation": "/api/docs",
		"health":        "/api/health",
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *server) handleMessage(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":   "API is working correctly!",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *server) handleIntensive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// simulated CPU-bound work, stops early if the client goes away
	var result float64
	for i := 0; i < 10_000_000; i++ {
		if i%1_000_000 == 0 && r.Context().Err() != nil {
			return
		}
		result += rand.Float64()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Resource intensive operation completed",
		"result":         result,
		"processingTime": time.Since(start).Milliseconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type userDetails struct {
	Subscription string   `json:"subscription"`
	AccessLevel  string   `json:"accessLevel"`
	Features     []string `json:"features"`
}

type userData struct {
	ID      int          `json:"id"`
	Name    string       `json:"name"`
	Email   string       `json:"email"`
	Details *userDetails `json:"details,omitempty"`
}

func (s *server) handleUser(w http.ResponseWriter, r *http.Request) {
	data := userData{ID: 1, Name: "Test User", Email: "user@example.com"}

	switch r.Header.Get(s.cfg.Limits.CredentialHeader) {
	case "test-key-premium":
		data.Details = &userDetails{Subscription: "Premium", AccessLevel: "Standard", Features: []string{"basic", "premium"}}
	case "test-key-enterprise":
		data.Details = &userDetails{Subscription: "Enterprise", AccessLevel: "Full", Features: []string{"basic", "premium", "advanced"}}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *server) handleIPLimited(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":   "This endpoint uses IP-based rate limiting",
		"ip":        contextBuilder(s.cfg.Limits).Build(r).SourceAddress,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

type endpointDoc struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

func (s *server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "API Documentation",
		"endpoints": []endpointDoc{
			{Path: "/api/message", Description: "Simple message endpoint with a fixed rate limit"},
			{Path: "/api/intensive", Description: "Resource-intensive endpoint with adaptive rate limiting"},
			{Path: "/api/user", Description: "Endpoint with API key rate limiting (use the " + s.cfg.Limits.CredentialHeader + " header)"},
			{Path: "/api/ip-limited", Description: "Endpoint with IP-based rate limiting"},
			{Path: "/api/health", Description: "Health check endpoint"},
		},
		"rateLimiting": map[string]any{
			"description":        "This API implements various rate limiting strategies",
			"defaultWindow":      s.cfg.Limits.Window().String(),
			"defaultMaxRequests": s.cfg.Limits.MaxRequests(),
			"backend":            s.cfg.Store.Backend,
		},
	})
}

// handleReset clears one caller's buckets under a rule. The key is the
// extracted form, e.g. "ip:10.0.0.1" or "cred:test-key-basic".
func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.writeJSON(w, http.StatusUnauthorized, rate_limiter_gate.DenyBody{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}

	name := chi.URLParam(r, "rule")
	gate, ok := s.gates[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, rate_limiter_gate.DenyBody{Status: http.StatusNotFound, Message: "unknown rule " + name})
		return
	}

	key := rate_limiter_gate.LimitKey(chi.URLParam(r, "key"))
	if err := gate.Reset(r.Context(), key); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, rate_limiter_gate.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("failed to reset rate limit", "rule", name, "key", string(key), "error", err)
		s.writeJSON(w, status, rate_limiter_gate.DenyBody{Status: status, Message: "failed to reset rate limit"})
		return
	}

	s.logger.Info("rate limit reset", "rule", name, "key", string(key))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Server.AdminToken)) == 1
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to write response body", "error", err)
	}
}
