package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	g := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	g.AddFallback("secondary", "secondary")
	return g
}

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failing   map[string]bool
		want      string
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "primary answers",
			want:      "primary",
			wantCalls: []string{"primary"},
		},
		{
			name:      "secondary takes over",
			failing:   map[string]bool{"primary": true},
			want:      "secondary",
			wantCalls: []string{"primary", "secondary"},
		},
		{
			name:      "all fail",
			failing:   map[string]bool{"primary": true, "secondary": true},
			wantCalls: []string{"primary", "secondary"},
			wantErr:   ErrAllFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newGroup(3)
			var calls []string
			got, err := Call(context.Background(), g, func(_ context.Context, v string) (string, error) {
				calls = append(calls, v)
				if tt.failing[v] {
					return "", errBackend
				}
				return v, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, errBackend) {
					t.Fatalf("err = %v, want %v wrapping the backend error", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
				}
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBackend(t *testing.T) {
	t.Parallel()

	g := newGroup(2)
	for range 2 {
		_ = g.Execute(context.Background(), func(_ context.Context, v string) error {
			if v == "primary" {
				return errBackend
			}
			return nil
		})
	}

	var calls []string
	err := g.Execute(context.Background(), func(_ context.Context, v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Errorf("calls = %v, want [secondary]", calls)
	}

	states := g.States()
	if states["primary"] != StateOpen || states["secondary"] != StateClosed {
		t.Errorf("states = %v", states)
	}
	if !g.Healthy() {
		t.Error("group with a closed backend reported unhealthy")
	}
}

func TestFallbackGroup_AllOpen(t *testing.T) {
	t.Parallel()

	g := newGroup(1)
	_ = g.Execute(context.Background(), func(context.Context, string) error { return errBackend })
	if g.Healthy() {
		t.Fatal("group with every breaker open reported healthy")
	}
	err := g.Execute(context.Background(), func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestFallbackGroup_CancellationStopsWalk(t *testing.T) {
	t.Parallel()

	g := newGroup(1)
	var calls []string
	err := g.Execute(context.Background(), func(_ context.Context, v string) error {
		calls = append(calls, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the primary", calls)
	}
	if g.States()["primary"] != StateClosed {
		t.Error("cancellation tripped the primary breaker")
	}
}

func TestFallbackGroup_TemplateApplied(t *testing.T) {
	t.Parallel()

	var opened []string
	g := NewFallbackGroup(1, "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:   1,
			OnStateChange: func(tr Transition) { opened = append(opened, tr.Name) },
		},
	})
	g.AddFallback("b", 2)
	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}
	_, _ = Call(context.Background(), g, func(context.Context, int) (int, error) { return 0, errBackend })
	if len(opened) != 2 || opened[0] != "a" || opened[1] != "b" {
		t.Errorf("transitions = %v, want [a b]", opened)
	}
}
