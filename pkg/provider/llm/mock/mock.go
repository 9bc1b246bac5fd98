// Package mock is an in-memory [llm.Provider] for tests of the oracle and
// failover layers.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"paragraphs":["Hi."]}`}}
//	p.Script = []mock.Reply{{Err: errTransient}} // first call fails, later calls use CompleteResponse
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/edualign/pkg/provider/llm"
	"github.com/MrWong99/edualign/pkg/types"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Reply is one scripted Complete outcome.
type Reply struct {
	Resp *llm.CompletionResponse
	Err  error
}

// Provider answers from its fields. Configure it before the first call; the
// recorded calls are read through [Provider.Calls] or, once calls have
// stopped, CompleteCalls.
type Provider struct {
	// Script is consumed one entry per Complete call. When it is empty,
	// CompleteResponse and CompleteErr answer.
	Script           []Reply
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount        int
	CountTokensErr    error
	ModelCapabilities types.ModelCapabilities

	mu            sync.Mutex
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records req and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if len(p.Script) == 0 {
		return p.CompleteResponse, p.CompleteErr
	}
	next := p.Script[0]
	p.Script = p.Script[1:]
	return next.Resp, next.Err
}

// CountTokens returns TokenCount and CountTokensErr.
func (p *Provider) CountTokens([]types.Message) (int, error) {
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.CompleteCalls)
}
