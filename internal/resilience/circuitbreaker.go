// Package resilience keeps segmentation running when an LLM backend degrades.
//
// Every backend sits behind a [Breaker]. After MaxFailures consecutive
// failures the breaker trips and rejects calls with [ErrCircuitOpen] for
// ResetTimeout; then it lets up to HalfOpenMax probe calls through and closes
// again once they all succeed. [FallbackGroup] chains breakers so the oracle
// moves on to the next configured backend while the primary cools down.
//
// A call aborted by its caller ([context.Canceled]) is not a backend failure
// and leaves the counters untouched. A per-call deadline is a failure.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the position of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen forwards a bounded number of probe calls.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

// String returns the lower-case name of s, as used in logs, metrics and the
// readiness report.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Transition is passed to [CircuitBreakerConfig.OnStateChange].
type Transition struct {
	Name     string
	From, To State
	// Failures is the consecutive failure count that led to the transition.
	Failures int
}

// CircuitBreakerConfig tunes a [Breaker].
type CircuitBreakerConfig struct {
	// Name identifies the backend in logs and transitions.
	Name string

	// MaxFailures is the number of consecutive failures that trips the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs
	// outside the breaker's lock.
	OnStateChange func(Transition)

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Breaker guards calls to one backend.
type Breaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // probe calls admitted in the current half-open window
	passed   int // probe calls that succeeded in that window
}

// NewCircuitBreaker returns a closed [Breaker]. Zero fields of cfg take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg}
}

// Name returns the configured backend name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do calls fn when the breaker admits the call and records the outcome. It
// returns [ErrCircuitOpen] without calling fn while the breaker is open or
// the half-open probe budget is used up, and ctx.Err() if ctx is already done.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var tr *Transition
	defer func() {
		b.mu.Unlock()
		b.notify(tr)
	}()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		tr = b.moveLocked(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// settle records the result of an admitted call.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	var tr *Transition
	defer func() {
		b.mu.Unlock()
		b.notify(tr)
	}()

	// A probe that started before a Reset belongs to a finished window.
	if probe && b.state != StateHalfOpen {
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
		if probe {
			b.probes--
		}
	case err != nil:
		b.failures++
		if probe || b.failures >= b.cfg.MaxFailures {
			tr = b.moveLocked(StateOpen)
		}
	case probe:
		b.passed++
		if b.passed >= b.cfg.HalfOpenMax {
			tr = b.moveLocked(StateClosed)
		}
	default:
		b.failures = 0
	}
}

// moveLocked switches to state to and resets the per-state counters. The
// caller holds b.mu and passes the result to notify after unlocking.
func (b *Breaker) moveLocked(to State) *Transition {
	tr := &Transition{Name: b.cfg.Name, From: b.state, To: to, Failures: b.failures}
	b.state = to
	b.probes, b.passed = 0, 0
	switch to {
	case StateOpen:
		b.openedAt = b.cfg.Now()
	case StateClosed:
		b.failures = 0
	}
	return tr
}

func (b *Breaker) notify(tr *Transition) {
	if tr == nil || tr.From == tr.To {
		return
	}
	level := slog.LevelInfo
	if tr.To == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "llm backend breaker changed state",
		"backend", tr.Name,
		"from", tr.From.String(),
		"to", tr.To.String(),
		"consecutive_failures", tr.Failures,
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(*tr)
	}
}

// State reports the breaker's position. A tripped breaker whose reset timeout
// has elapsed reports [StateHalfOpen]; the switch itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.moveLocked(StateClosed)
	b.mu.Unlock()
	b.notify(tr)
}
