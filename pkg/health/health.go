// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health provides health checks and the operations HTTP endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultTTL   = 5 * time.Second
	checkTimeout = 5 * time.Second
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of a single health check.
type Check struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	DurationMS  int64     `json:"duration_ms"`
}

// CheckFunc performs a health check.
type CheckFunc func(ctx context.Context) error

// Checker runs registered checks and caches their results.
type Checker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	cache  map[string]Check
	ttl    time.Duration
	now    func() time.Time
}

// NewChecker creates a health checker. Results are reused for cacheTTL.
func NewChecker(cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = defaultTTL
	}
	return &Checker{
		checks: make(map[string]CheckFunc),
		cache:  make(map[string]Check),
		ttl:    cacheTTL,
		now:    time.Now,
	}
}

// Register adds a health check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
	delete(c.cache, name)
}

// Health runs every check and returns the overall status, healthy only when
// all checks pass. Checks are returned sorted by name.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := StatusHealthy
	checks := make([]Check, 0, len(names))
	for _, name := range names {
		check, ok := c.cache[name]
		if !ok || c.now().Sub(check.LastChecked) >= c.ttl {
			check = c.run(ctx, name, c.checks[name])
			c.cache[name] = check
		}
		if check.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
		checks = append(checks, check)
	}

	return overall, checks
}

func (c *Checker) run(ctx context.Context, name string, fn CheckFunc) Check {
	start := c.now()
	err := fn(ctx)

	check := Check{
		Name:        name,
		Status:      StatusHealthy,
		LastChecked: c.now(),
		DurationMS:  c.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}

	return check
}

// HTTPHandler reports the status of every check. It answers 503 when any
// check fails.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		status, checks := c.Health(ctx)

		code := http.StatusOK
		if status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}

// LivenessHandler answers as long as the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler answers 200 only when the named check passes.
func (c *Checker) ReadinessHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		_, checks := c.Health(ctx)
		for _, check := range checks {
			if check.Name != name {
				continue
			}
			code := http.StatusOK
			if check.Status != StatusHealthy {
				code = http.StatusServiceUnavailable
			}
			writeJSON(w, code, check)
			return
		}

		writeJSON(w, http.StatusServiceUnavailable, Check{Name: name, Status: StatusUnhealthy, Message: "check not registered"})
	}
}

// MakeHandler returns the operations router: /health, /ready, /live and
// /metrics. Readiness follows the check registered under ready.
func MakeHandler(c *Checker, ready string, gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := chi.NewRouter()
	mux.Get("/health", c.HTTPHandler())
	mux.Get("/ready", c.ReadinessHandler(ready))
	mux.Get("/live", LivenessHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
