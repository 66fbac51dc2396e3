// Package health provides the admin HTTP handlers of the translation server.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when the server is not
//     draining and all registered [Checker] functions pass.
//   - /stats: JSON telemetry snapshot, when a stats source is configured.
//
// Probe responses are JSON objects with a top-level "status" field ("ok",
// "fail" or "draining") and a "checks" map containing the result of each
// named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcall/internal/resilience"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "gateway",
	// "tts"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStats serves the value returned by fn on /stats.
func WithStats(fn func() any) Option {
	return func(h *Handler) { h.stats = fn }
}

// Handler serves the admin endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	stats    func() any
	draining atomic.Bool
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. Checkers run concurrently.
func New(checkers []Checker, opts ...Option) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	h := &Handler{checkers: c}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetDraining marks the server as shutting down. A draining server reports
// not ready so that load balancers stop routing new calls to it.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Stats writes the configured telemetry snapshot, or 404 when none is set.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		http.NotFound(w, nil)
		return
	}
	writeJSON(w, http.StatusOK, h.stats())
}

// Register adds the /healthz, /readyz and /stats routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /stats", h.Stats)
}

// BreakerChecker fails when every circuit breaker reported by snapshots is
// open, meaning no provider of that kind can currently serve requests.
func BreakerChecker(name string, snapshots func() []resilience.Snapshot) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			snaps := snapshots()
			if len(snaps) == 0 {
				return nil
			}
			for _, s := range snaps {
				if s.State != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all %d providers open: %w", len(snaps), resilience.ErrCircuitOpen)
		},
	}
}

// errNotServing is reported by ListenerChecker before the listener is up.
var errNotServing = errors.New("listener not serving")

// ListenerChecker fails until serving reports true.
func ListenerChecker(name string, serving func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !serving() {
				return errNotServing
			}
			return nil
		},
	}
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
