package llm

import (
	"strings"

	"github.com/MrWong99/edualign/pkg/types"
)

// DefaultCapabilities is returned by [LookupCapabilities] for unknown models.
var DefaultCapabilities = types.ModelCapabilities{
	ContextWindow:   128_000,
	MaxOutputTokens: 4_096,
}

// capabilityEntry maps a lower-case model name prefix to its limits.
type capabilityEntry struct {
	prefix string
	caps   types.ModelCapabilities
}

// knownModels is searched in order; the first matching prefix wins, so more
// specific prefixes come first.
var knownModels = []capabilityEntry{
	// OpenAI
	{"gpt-4.1", types.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsJSONMode: true}},
	{"gpt-4o", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsJSONMode: true}},
	{"gpt-4-turbo", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{"gpt-4", types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{"o1-mini", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{"o1", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true}},
	{"o3", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true}},
	{"o4-mini", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true}},

	// Anthropic
	{"claude-3-opus", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096}},
	{"claude", types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},

	// Google
	{"gemini-1.5-pro", types.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"gemini", types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsJSONMode: true}},

	// Others reachable through any-llm-go
	{"deepseek", types.ModelCapabilities{ContextWindow: 64_000, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"mistral-large", types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
}

// LookupCapabilities returns the known limits of model, matched by name
// prefix and ignoring case. Unknown models get [DefaultCapabilities].
func LookupCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, e := range knownModels {
		if strings.HasPrefix(lower, e.prefix) {
			return e.caps
		}
	}
	return DefaultCapabilities
}

// OutputBudget returns the completion token limit for a request whose input
// is inputTokens long and whose reply must restate that input in full, plus
// overhead tokens of structure. The result is capped at caps.MaxOutputTokens
// and at what remains of the context window. A non-positive result means the
// request does not fit.
func OutputBudget(caps types.ModelCapabilities, inputTokens, overhead int) int {
	want := inputTokens + overhead
	if caps.MaxOutputTokens > 0 {
		want = min(want, caps.MaxOutputTokens)
	}
	if caps.ContextWindow > 0 {
		want = min(want, caps.ContextWindow-inputTokens)
	}
	return want
}
