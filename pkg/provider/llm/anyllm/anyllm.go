// Package anyllm reaches the remaining LLM vendors (Anthropic, Gemini,
// Mistral, local llama.cpp servers and others) through
// github.com/mozilla-ai/any-llm-go.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest")
//	p, err := anyllm.New("ollama", "llama3.1", anyllmlib.WithBaseURL("http://gpu-box:11434"))
//
// Without an explicit API key option each backend reads its usual
// environment variable (ANTHROPIC_API_KEY, GEMINI_API_KEY and so on).
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/edualign/pkg/provider/llm"
	"github.com/MrWong99/edualign/pkg/types"
)

// ErrUnsupported is returned by [New] for an unknown backend name.
var ErrUnsupported = errors.New("anyllm: unsupported backend")

// backends maps each supported name to its any-llm-go constructor. The
// concrete constructors return distinct types, hence the wrappers.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// SupportedProviders returns the accepted backend names, sorted.
func SupportedProviders() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// reply is the part of an any-llm-go completion the oracle uses.
type reply struct {
	content string
	finish  string
	usage   llm.Usage
	empty   bool
}

// Provider is an [llm.Provider] for one model of one any-llm-go backend.
type Provider struct {
	name     string
	model    string
	caps     types.ModelCapabilities
	complete func(context.Context, anyllmlib.CompletionParams) (reply, error)
}

var _ llm.Provider = (*Provider)(nil)

// New returns a Provider for model on the named backend.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model is required")
	}
	name := strings.ToLower(backend)
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnsupported, backend, strings.Join(SupportedProviders(), ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}

	return &Provider{
		name:  name,
		model: model,
		caps:  llm.LookupCapabilities(model),
		complete: func(ctx context.Context, params anyllmlib.CompletionParams) (reply, error) {
			resp, err := b.Completion(ctx, params)
			if err != nil {
				return reply{}, err
			}
			if len(resp.Choices) == 0 {
				return reply{empty: true}, nil
			}
			r := reply{
				content: resp.Choices[0].Message.ContentString(),
				finish:  string(resp.Choices[0].FinishReason),
			}
			if resp.Usage != nil {
				r.usage = llm.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			return r, nil
		},
	}, nil
}

// Complete sends one completion. A reply stopped by the token limit wraps
// [llm.ErrTruncated].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r, err := p.complete(ctx, p.params(req))
	switch {
	case err != nil:
		return nil, fmt.Errorf("anyllm: %s/%s: %w", p.name, p.model, err)
	case r.empty:
		return nil, fmt.Errorf("anyllm: %s/%s: %w", p.name, p.model, llm.ErrEmptyReply)
	case r.finish == llm.FinishLength:
		return nil, fmt.Errorf("anyllm: %s/%s after %d tokens: %w", p.name, p.model, r.usage.CompletionTokens, llm.ErrTruncated)
	}
	return &llm.CompletionResponse{Content: r.content, Usage: r.usage}, nil
}

// CountTokens estimates with [llm.EstimateTokens].
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities returns the limits looked up for the model name.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.caps
}

// params builds the any-llm-go request. JSON mode is left to the prompt
// because backends constrain output differently.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
