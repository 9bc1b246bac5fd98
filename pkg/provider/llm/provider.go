// Package llm is the narrow completion API the segmentation oracle needs from
// a language model: one-shot chat completion, a token estimate for sizing the
// reply budget, and static model limits. Concrete backends live in the
// openai and anyllm subpackages.
package llm

import (
	"context"
	"errors"

	"github.com/MrWong99/edualign/pkg/types"
)

// ErrAuth is wrapped by providers when the backend rejects the request for
// authentication or authorisation reasons. Retrying such a request with the
// same credentials cannot succeed.
var ErrAuth = errors.New("llm: authentication failed")

// ErrTruncated is returned when the model stopped because it reached
// CompletionRequest.MaxTokens. The partial reply cannot restate the input in
// full, so callers treat it as a failed attempt.
var ErrTruncated = errors.New("llm: reply truncated at the output token limit")

// ErrEmptyReply is returned when the backend answered without any choice.
var ErrEmptyReply = errors.New("llm: empty reply")

// FinishLength is the finish reason both SDKs report for a reply cut off by
// the token limit.
const FinishLength = "length"

// Usage is the token accounting reported by the backend, in its own units.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is a single segmentation prompt. Messages must not be
// empty.
type CompletionRequest struct {
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt holds the segmentation instructions. Backends without a
	// dedicated field send it as a leading "system" message.
	SystemPrompt string

	// JSONMode asks the provider to constrain output to a single JSON object
	// when the backend supports it. Callers must still validate the output.
	JSONMode bool
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is implemented by every LLM backend. Implementations are safe for
// concurrent use.
type Provider interface {
	// Complete returns the model's full reply to req. Authentication failures
	// wrap [ErrAuth].
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the prompt size of messages. It may overcount
	// but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns the model's fixed limits.
	Capabilities() types.ModelCapabilities
}

// EstimateTokens approximates a token count at four bytes per token plus a
// small per-message overhead.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
