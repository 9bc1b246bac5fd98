// Package health serves the liveness (/healthz) and readiness (/readyz)
// probes of the segmentation service.
//
// Liveness only says the process answers HTTP. Readiness runs every
// registered [Checker] in parallel and fails while any of them fails or while
// the service drains for shutdown, so a load balancer stops sending jobs that
// could only end in a 502.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/edualign/internal/resilience"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker probes one dependency of the service.
type Checker struct {
	// Name keys the check in the readiness report.
	Name string

	// Check returns nil when the dependency can serve jobs.
	Check func(ctx context.Context) error

	// Detail, if set, adds dependency-specific state to the report.
	Detail func() map[string]string
}

// Status values used in probe responses.
const (
	StatusOK       = "ok"
	StatusFail     = "fail"
	StatusDraining = "draining"
)

// CheckReport is the outcome of one [Checker].
type CheckReport struct {
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Report is the body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckReport `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	draining atomic.Bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckTimeout overrides [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New returns a Handler for checkers.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetDraining switches readiness to 503 "draining" without running checks.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Healthz answers 200 while the process serves HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz answers 200 when every check passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeReport(w, http.StatusServiceUnavailable, Report{Status: StatusDraining})
		return
	}

	rep := h.Check(r.Context())
	code := http.StatusOK
	if rep.Status != StatusOK {
		code = http.StatusServiceUnavailable
		slog.Warn("health: not ready", "checks", rep.Checks)
	}
	writeReport(w, code, rep)
}

// Check runs all checkers concurrently and aggregates their results.
func (h *Handler) Check(ctx context.Context) Report {
	reports := make([]CheckReport, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			reports[i] = h.run(ctx, c)
		})
	}
	wg.Wait()

	rep := Report{Status: StatusOK, Checks: make(map[string]CheckReport, len(h.checkers))}
	for i, c := range h.checkers {
		if reports[i].Status != StatusOK {
			rep.Status = StatusFail
		}
		rep.Checks[c.Name] = reports[i]
	}
	return rep
}

func (h *Handler) run(ctx context.Context, c Checker) CheckReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	cr := CheckReport{Status: StatusOK, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		cr.Status = StatusFail
		cr.Error = err.Error()
	}
	if c.Detail != nil {
		cr.Detail = c.Detail()
	}
	return cr
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ErrNoHealthyProvider fails the "llm" check while every backend's circuit
// breaker is open.
var ErrNoHealthyProvider = errors.New("health: every LLM backend circuit is open")

// Backends is the view of the LLM failover chain the "llm" check needs.
type Backends interface {
	Healthy() bool
	States() map[string]resilience.State
}

// ProviderChecker reports the LLM failover chain as ready while any backend
// accepts calls, listing each backend's breaker state as detail.
func ProviderChecker(b Backends) Checker {
	return Checker{
		Name: "llm",
		Check: func(context.Context) error {
			if !b.Healthy() {
				return ErrNoHealthyProvider
			}
			return nil
		},
		Detail: func() map[string]string {
			states := b.States()
			out := make(map[string]string, len(states))
			for name, s := range states {
				out[name] = s.String()
			}
			return out
		},
	}
}

// PingChecker adapts a Ping method, such as pgxpool.Pool.Ping, into a check.
func PingChecker(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

func writeReport(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
