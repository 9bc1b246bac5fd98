package resilience

import (
	"context"

	"github.com/MrWong99/edualign/pkg/provider/llm"
	"github.com/MrWong99/edualign/pkg/types"
)

// LLMFallback is an [llm.Provider] that spreads completions over a
// [FallbackGroup] of LLM backends.
//
// Errors from the last backend stay reachable through [errors.Is], so an
// [llm.ErrAuth] from an exhausted chain is still recognisable.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an LLMFallback with primary as its first backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend after the existing ones.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete sends req to the first backend that answers.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens asks the first admitting backend to count messages. Counting is
// local for every built-in provider, so it uses a background context.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return Call(context.Background(), f.group, func(_ context.Context, p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the limits of the primary backend. The output budget is
// sized against it, so fallbacks should not have a smaller context window.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.members[0].value.Capabilities()
}

// Healthy reports whether any backend currently accepts calls.
func (f *LLMFallback) Healthy() bool { return f.group.Healthy() }

// States returns the breaker state of every backend keyed by name.
func (f *LLMFallback) States() map[string]State { return f.group.States() }
