// Package llmoracle implements the segmentation [oracle.Oracle] on top of an
// [llm.Provider].
//
// The model receives the text verbatim together with a strict no-alteration
// contract and is asked to answer with a single JSON object. Responses are
// stripped of markdown fences and decoded; anything that does not decode is
// reported as a retryable [oracle.InvocationError]. No attempt is made here to
// check that the answer reconstructs the input; that verification belongs
// to the callers in package discourse.
//
// Every request caps the completion length at what the model can produce for
// a reply that restates the input. Inputs that cannot fit the model's context
// window fail with [ErrInputTooLarge] without calling the model.
package llmoracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/edualign/internal/oracle"
	"github.com/MrWong99/edualign/pkg/provider/llm"
	"github.com/MrWong99/edualign/pkg/types"
)

// ErrInputTooLarge is wrapped in a non-retryable [oracle.InvocationError] when
// the text plus its restatement cannot fit the model's context window.
var ErrInputTooLarge = errors.New("llmoracle: input exceeds the model context window")

const (
	defaultTemperature          = 0.2
	defaultTimeout              = 60 * time.Second
	defaultTargetParagraphChars = 1200

	// replyOverheadTokens covers the JSON structure around the restated text.
	replyOverheadTokens = 256
)

// paragraphPrompt is the system prompt for paragraph splitting. The target
// paragraph count is filled in at call time.
const paragraphPrompt = `You split transcripts into paragraphs.

Split the text you receive into about %d paragraphs of roughly equal length, breaking only at natural topic boundaries.

Rules:
- Do NOT add, remove, or alter any character. This includes spaces, line breaks, punctuation, and capitalisation.
- Every character of the input must appear in exactly one paragraph, in the original order.
- Concatenating the paragraphs with no separator must reproduce the input exactly.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"paragraphs": ["<paragraph 1>", "<paragraph 2>"]}`

// unitPrompt is the system prompt for discourse-unit splitting.
const unitPrompt = `You split paragraphs into elementary discourse units (EDUs).

An EDU is a contiguous span of text expressing one rhetorical move. Tag each EDU with exactly one of:
- BG (background): context the argument builds on
- CL (claim): a position the speaker asserts
- EV (evidence): facts or data supporting a claim
- EX (example): a concrete illustration
- CS (concession): acknowledging a counterpoint
- RB (rebuttal): answering a counterpoint
- IM (implication): a consequence or call to action

Rules:
- Do NOT add, remove, or alter any character. Copy every EDU verbatim from the input.
- EDUs must appear in the original order and cover the whole paragraph.
- Concatenating the EDU contents with no separator must reproduce the input exactly.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"units": [{"content": "<verbatim text>", "tag": "<BG|CL|EV|EX|CS|RB|IM>"}]}`

// strictAddendum is appended to the system prompt on retries.
const strictAddendum = `

IMPORTANT: a previous answer for this text did not reproduce it exactly. Copy characters verbatim; never normalise whitespace, quotes, or punctuation, and never paraphrase.`

// maximalAddendum is appended after strictAddendum on the final attempts.
const maximalAddendum = `
Before answering, check that the first word of every piece appears in the input at that position. Do not invent text that is not in the input.`

// Option is a functional option for configuring an [Oracle].
type Option func(*Oracle)

// WithTemperature sets the base LLM sampling temperature used at
// [oracle.EffortNormal]. Higher effort levels scale it down. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(o *Oracle) {
		o.temperature = temp
	}
}

// WithTimeout bounds every individual LLM call. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithTargetParagraphChars sets the desired paragraph length used to derive
// the requested paragraph count. Default: 1200.
func WithTargetParagraphChars(n int) Option {
	return func(o *Oracle) {
		if n > 0 {
			o.targetChars = n
		}
	}
}

// Oracle asks an [llm.Provider] to segment text. It is safe for concurrent use.
type Oracle struct {
	llm         llm.Provider
	temperature float64
	timeout     time.Duration
	targetChars int
}

var _ oracle.Oracle = (*Oracle)(nil)

// New returns an [Oracle] backed by provider.
func New(provider llm.Provider, opts ...Option) *Oracle {
	o := &Oracle{
		llm:         provider,
		temperature: defaultTemperature,
		timeout:     defaultTimeout,
		targetChars: defaultTargetParagraphChars,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// paragraphResponse is the expected JSON structure for paragraph splits.
type paragraphResponse struct {
	Paragraphs []string `json:"paragraphs"`
}

// unitResponse is the expected JSON structure for unit splits.
type unitResponse struct {
	Units []oracle.Unit `json:"units"`
}

// SplitParagraphs implements [oracle.Oracle].
func (o *Oracle) SplitParagraphs(ctx context.Context, article string, effort oracle.Effort) ([]string, error) {
	sys := fmt.Sprintf(paragraphPrompt, o.paragraphCount(article)) + addendum(effort)

	content, err := o.complete(ctx, oracle.OpSplitParagraphs, sys, article, effort)
	if err != nil {
		return nil, err
	}

	var r paragraphResponse
	if err := decode(content, &r, func(raw []byte) error {
		return json.Unmarshal(raw, &r.Paragraphs)
	}); err != nil {
		return nil, &oracle.InvocationError{Op: oracle.OpSplitParagraphs, Retryable: true, Err: err}
	}
	if r.Paragraphs == nil {
		return nil, &oracle.InvocationError{
			Op: oracle.OpSplitParagraphs, Retryable: true,
			Err: errors.New("response has no paragraphs field"),
		}
	}
	return r.Paragraphs, nil
}

// SplitUnits implements [oracle.Oracle].
func (o *Oracle) SplitUnits(ctx context.Context, paragraph string, effort oracle.Effort) ([]oracle.Unit, error) {
	sys := unitPrompt + addendum(effort)

	content, err := o.complete(ctx, oracle.OpSplitUnits, sys, paragraph, effort)
	if err != nil {
		return nil, err
	}

	var r unitResponse
	if err := decode(content, &r, func(raw []byte) error {
		return json.Unmarshal(raw, &r.Units)
	}); err != nil {
		return nil, &oracle.InvocationError{Op: oracle.OpSplitUnits, Retryable: true, Err: err}
	}
	if r.Units == nil {
		return nil, &oracle.InvocationError{
			Op: oracle.OpSplitUnits, Retryable: true,
			Err: errors.New("response has no units field"),
		}
	}
	return r.Units, nil
}

// complete runs one bounded LLM call and returns the raw reply content.
func (o *Oracle) complete(ctx context.Context, op, system, text string, effort oracle.Effort) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: system,
		Temperature:  o.temperatureFor(effort),
		JSONMode:     true,
		Messages: []types.Message{
			{Role: "user", Content: text},
		},
	}
	budget, err := o.outputBudget(req)
	if err != nil {
		return "", &oracle.InvocationError{Op: op, Retryable: false, Err: err}
	}
	req.MaxTokens = budget

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.llm.Complete(callCtx, req)
	if err != nil {
		// Classified against the job context, so a per-call timeout stays retryable.
		return "", oracle.NewInvocationError(ctx, op, err)
	}
	if resp == nil {
		return "", &oracle.InvocationError{Op: op, Retryable: true, Err: errors.New("empty response")}
	}
	return resp.Content, nil
}

// outputBudget sizes the completion for a reply that restates req's text.
func (o *Oracle) outputBudget(req llm.CompletionRequest) (int, error) {
	msgs := append([]types.Message{{Role: "system", Content: req.SystemPrompt}}, req.Messages...)
	in, err := o.llm.CountTokens(msgs)
	if err != nil {
		in = llm.EstimateTokens(msgs)
	}
	caps := o.llm.Capabilities()
	budget := llm.OutputBudget(caps, in, in/2+replyOverheadTokens)
	if budget < in/2 {
		return 0, fmt.Errorf("%w: %d input tokens, context window %d", ErrInputTooLarge, in, caps.ContextWindow)
	}
	return budget, nil
}

// temperatureFor scales the base temperature down as effort rises.
func (o *Oracle) temperatureFor(effort oracle.Effort) float64 {
	switch effort {
	case oracle.EffortStrict:
		return o.temperature / 2
	case oracle.EffortMaximal:
		return o.temperature / 4
	default:
		return o.temperature
	}
}

// paragraphCount is the number of paragraphs requested for article.
func (o *Oracle) paragraphCount(article string) int {
	n := (len([]rune(article)) + o.targetChars - 1) / o.targetChars
	return max(n, 1)
}

// addendum returns the extra instructions for effort.
func addendum(effort oracle.Effort) string {
	switch effort {
	case oracle.EffortStrict:
		return strictAddendum
	case oracle.EffortMaximal:
		return strictAddendum + maximalAddendum
	default:
		return ""
	}
}

// decode unmarshals the model output into obj. Bare JSON arrays, which some
// models return instead of the requested object, are handled by asArray.
func decode(content string, obj any, asArray func([]byte) error) error {
	cleaned := stripMarkdown(content)
	if cleaned == "" {
		return errors.New("empty response content")
	}
	if strings.HasPrefix(cleaned, "[") {
		if err := asArray([]byte(cleaned)); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal([]byte(cleaned), obj); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
