package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/edualign/pkg/provider/llm"
	llmmock "github.com/MrWong99/edualign/pkg/provider/llm/mock"
	"github.com/MrWong99/edualign/pkg/types"
)

func reply(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content}
}

func newChain(maxFailures int, backends ...*llmmock.Provider) *LLMFallback {
	fb := NewLLMFallback(backends[0], "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures},
	})
	names := []string{"anthropic", "ollama"}
	for i, b := range backends[1:] {
		fb.AddFallback(names[i], b)
	}
	return fb
}

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	errDown := errors.New("503 service unavailable")
	authErr := errors.Join(llm.ErrAuth, errors.New("401"))

	tests := []struct {
		name      string
		primary   *llmmock.Provider
		secondary *llmmock.Provider
		want      string
		wantErrs  []error
		wantCalls [2]int
	}{
		{
			name:      "primary answers",
			primary:   &llmmock.Provider{CompleteResponse: reply(`{"units":[]}`)},
			secondary: &llmmock.Provider{CompleteResponse: reply("unused")},
			want:      `{"units":[]}`,
			wantCalls: [2]int{1, 0},
		},
		{
			name:      "fails over",
			primary:   &llmmock.Provider{CompleteErr: errDown},
			secondary: &llmmock.Provider{CompleteResponse: reply("from anthropic")},
			want:      "from anthropic",
			wantCalls: [2]int{1, 1},
		},
		{
			name:      "exhausted keeps last cause",
			primary:   &llmmock.Provider{CompleteErr: errDown},
			secondary: &llmmock.Provider{CompleteErr: authErr},
			wantErrs:  []error{ErrAllFailed, llm.ErrAuth},
			wantCalls: [2]int{1, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fb := newChain(3, tt.primary, tt.secondary)
			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
			for _, want := range tt.wantErrs {
				if !errors.Is(err, want) {
					t.Errorf("err = %v, want it to match %v", err, want)
				}
			}
			if tt.wantErrs == nil {
				if err != nil {
					t.Fatalf("Complete: %v", err)
				}
				if resp.Content != tt.want {
					t.Errorf("content = %q, want %q", resp.Content, tt.want)
				}
			}
			if got := [2]int{len(tt.primary.Calls()), len(tt.secondary.Calls())}; got != tt.wantCalls {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestLLMFallback_CancelledContext(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteResponse: reply("x")}
	secondary := &llmmock.Provider{CompleteResponse: reply("y")}
	fb := newChain(1, primary, secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fb.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(primary.Calls())+len(secondary.Calls()) != 0 {
		t.Error("a backend was called with a cancelled context")
	}
	if s := fb.States()["openai"]; s != StateClosed {
		t.Errorf("primary breaker = %s, want closed", s)
	}
}

func TestLLMFallback_HealthTracksBreakers(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Script: []llmmock.Reply{{Err: errors.New("down")}}, CompleteResponse: reply("ok")}
	fb := newChain(1, primary)
	if !fb.Healthy() {
		t.Fatal("fresh chain reported unhealthy")
	}
	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})
	if fb.Healthy() || fb.States()["openai"] != StateOpen {
		t.Errorf("after a failure with MaxFailures 1: healthy=%v states=%v", fb.Healthy(), fb.States())
	}
	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen while open", err)
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary called %d times, want 1", n)
	}
}

func TestLLMFallback_CountTokensFailsOver(t *testing.T) {
	t.Parallel()

	fb := newChain(3,
		&llmmock.Provider{CountTokensErr: errors.New("tokenizer missing")},
		&llmmock.Provider{TokenCount: 42},
	)
	n, err := fb.CountTokens([]types.Message{{Role: "user", Content: "Hello."}})
	if err != nil || n != 42 {
		t.Errorf("CountTokens = %d, %v; want 42", n, err)
	}
}

func TestLLMFallback_CapabilitiesOfPrimary(t *testing.T) {
	t.Parallel()

	caps := types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsJSONMode: true}
	fb := newChain(3,
		&llmmock.Provider{ModelCapabilities: caps},
		&llmmock.Provider{ModelCapabilities: types.ModelCapabilities{ContextWindow: 8_192}},
	)
	if got := fb.Capabilities(); got != caps {
		t.Errorf("Capabilities = %+v, want primary's %+v", got, caps)
	}
}
