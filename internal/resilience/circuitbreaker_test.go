package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects transitions from OnStateChange.
type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) record(tr Transition) {
	r.mu.Lock()
	r.got = append(r.got, tr)
	r.mu.Unlock()
}

func (r *recorder) path() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.got))
	for _, tr := range r.got {
		out = append(out, tr.To)
	}
	return out
}

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errBackend }

func newTestBreaker(clk *fakeClock, rec *recorder) *Breaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:          "openai",
		MaxFailures:   3,
		ResetTimeout:  time.Minute,
		HalfOpenMax:   2,
		Now:           clk.Now,
		OnStateChange: rec.record,
	})
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewCircuitBreaker(CircuitBreakerConfig{Name: "x"})
	if b.cfg.MaxFailures != 5 || b.cfg.ResetTimeout != 30*time.Second || b.cfg.HalfOpenMax != 3 {
		t.Errorf("defaults = %d/%s/%d, want 5/30s/3", b.cfg.MaxFailures, b.cfg.ResetTimeout, b.cfg.HalfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %s, want closed", b.State())
	}
	if b.Name() != "x" {
		t.Errorf("Name = %q", b.Name())
	}
}

func TestBreaker_Trips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		results []error
		want    State
	}{
		{"all ok", []error{nil, nil, nil}, StateClosed},
		{"two failures", []error{errBackend, errBackend}, StateClosed},
		{"success resets streak", []error{errBackend, errBackend, nil, errBackend, errBackend}, StateClosed},
		{"three in a row", []error{errBackend, errBackend, errBackend}, StateOpen},
		{"deadline counts", []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}, StateOpen},
		{"cancellation ignored", []error{context.Canceled, context.Canceled, context.Canceled, context.Canceled}, StateClosed},
		{"cancellation keeps streak", []error{errBackend, errBackend, context.Canceled, errBackend}, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newTestBreaker(newFakeClock(), &recorder{})
			for _, res := range tt.results {
				_ = b.Do(context.Background(), func(context.Context) error { return res })
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(newFakeClock(), &recorder{})
	for range 3 {
		_ = b.Do(context.Background(), fail)
	}
	called := false
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestBreaker_RecoversAfterProbes(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	rec := &recorder{}
	b := newTestBreaker(clk, rec)
	for range 3 {
		_ = b.Do(context.Background(), fail)
	}

	clk.Advance(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state before timeout = %s, want open", b.State())
	}
	clk.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after timeout = %s, want half-open", b.State())
	}

	if err := b.Do(context.Background(), succeed); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state after one probe = %s, want half-open", b.State())
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after probes = %s, want closed", b.State())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	got := rec.path()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
	if rec.got[0].Name != "openai" || rec.got[0].Failures != 3 {
		t.Errorf("open transition = %+v", rec.got[0])
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := newTestBreaker(clk, &recorder{})
	for range 3 {
		_ = b.Do(context.Background(), fail)
	}
	clk.Advance(time.Minute)

	if err := b.Do(context.Background(), fail); !errors.Is(err, errBackend) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	// The reset timeout restarts from the failed probe.
	clk.Advance(30 * time.Second)
	if err := b.Do(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := newTestBreaker(clk, &recorder{})
	for range 3 {
		_ = b.Do(context.Background(), fail)
	}
	clk.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do(context.Background(), func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	if err := b.Do(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third concurrent probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreaker_CancelledProbeFreesSlot(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1, Now: clk.Now})
	_ = b.Do(context.Background(), fail)
	clk.Advance(time.Second)

	err := b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Fatalf("probe after cancellation: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreaker_DoneContextSkipsCall(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(newFakeClock(), &recorder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := newTestBreaker(newFakeClock(), rec)
	b.Reset()
	if len(rec.path()) != 0 {
		t.Errorf("reset of a closed breaker reported %v", rec.path())
	}
	for range 3 {
		_ = b.Do(context.Background(), fail)
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Errorf("call after reset: %v", err)
	}
	if got := rec.path(); len(got) != 2 || got[1] != StateClosed {
		t.Errorf("transitions = %v, want [open closed]", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
		State(-1):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
