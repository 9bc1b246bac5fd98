package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no backend of a [FallbackGroup] produced a
// result. The last backend error is wrapped alongside it.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig is the breaker template applied to every backend of a
// [FallbackGroup]. Name is filled in per backend.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	value   T
	breaker *Breaker
}

// FallbackGroup tries an ordered list of backends of type T, skipping those
// whose breaker is open. Backends must be registered before the group is
// shared between goroutines.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup returns a group whose first backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a backend that is tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, backend T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{value: backend, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of registered backends.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }

// Execute is [Call] without a result value.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := Call(ctx, g, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Call runs fn against the backends of g in order and returns the first
// success. Cancellation of ctx ends the walk immediately with the context
// error. When every backend fails or is open, the error wraps [ErrAllFailed]
// and the last failure.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("llm backend skipped, breaker open", "backend", m.breaker.Name())
		default:
			slog.Warn("llm backend failed", "backend", m.breaker.Name(), "err", err, "remaining", len(g.members)-i-1)
		}
		lastErr = err
	}
	if lastErr == nil {
		return zero, ErrAllFailed
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Healthy reports whether any backend would currently accept a call.
func (g *FallbackGroup[T]) Healthy() bool {
	for i := range g.members {
		if g.members[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// States returns each backend's breaker state keyed by backend name.
func (g *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.breaker.Name()] = m.breaker.State()
	}
	return out
}
