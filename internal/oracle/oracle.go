// Package oracle defines the text-segmentation oracle used by the discourse
// pipeline.
//
// An oracle is an external, non-deterministic service (typically an LLM) that
// proposes paragraph splits for an article and tagged discourse-unit splits
// for a paragraph. Its output is never trusted for exactness: callers in
// package discourse verify every result against the source text and retry or
// fail when it does not reconstruct exactly.
//
// Implementations must be safe for concurrent use.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/edualign/pkg/provider/llm"
)

// Op names used in [InvocationError] and metrics.
const (
	OpSplitParagraphs = "split_paragraphs"
	OpSplitUnits      = "split_units"
)

// Effort is a hint asking the oracle to be more careful. Callers raise it on
// retries after a verification failure.
type Effort int

const (
	// EffortNormal is used for the first attempt.
	EffortNormal Effort = iota

	// EffortStrict is used for the second attempt.
	EffortStrict

	// EffortMaximal is used for the third and later attempts.
	EffortMaximal
)

// String returns the human-readable name of the effort level.
func (e Effort) String() string {
	switch e {
	case EffortNormal:
		return "normal"
	case EffortStrict:
		return "strict"
	case EffortMaximal:
		return "maximal"
	default:
		return "unknown"
	}
}

// EffortForAttempt maps a 1-based attempt number to an [Effort].
func EffortForAttempt(attempt int) Effort {
	switch {
	case attempt <= 1:
		return EffortNormal
	case attempt == 2:
		return EffortStrict
	default:
		return EffortMaximal
	}
}

// Unit is one discourse unit as proposed by the oracle. Content is not
// trusted to be an exact substring of the paragraph; only its first token and
// Tag are used downstream.
type Unit struct {
	Content string `json:"content"`
	Tag     string `json:"tag"`
}

// Oracle splits text into paragraphs and discourse units.
type Oracle interface {
	// SplitParagraphs proposes a split of article into paragraphs of roughly
	// equal length at natural topic boundaries.
	SplitParagraphs(ctx context.Context, article string, effort Effort) ([]string, error)

	// SplitUnits proposes a split of paragraph into tagged discourse units.
	SplitUnits(ctx context.Context, paragraph string, effort Effort) ([]Unit, error)
}

// InvocationError reports a failure to obtain a usable answer from the
// oracle: transport, auth, quota, or an unparseable response.
type InvocationError struct {
	// Op is the oracle operation that failed.
	Op string

	// Retryable is false when repeating the call cannot help (authentication
	// failure, caller cancellation).
	Retryable bool

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *InvocationError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("oracle: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("oracle: %s (not retryable): %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InvocationError) Unwrap() error { return e.Err }

// NewInvocationError wraps err as an [InvocationError] for op, classifying it
// as non-retryable when the provider reported [llm.ErrAuth] or ctx is done.
func NewInvocationError(ctx context.Context, op string, err error) *InvocationError {
	retryable := true
	if errors.Is(err, llm.ErrAuth) || ctx.Err() != nil {
		retryable = false
	}
	return &InvocationError{Op: op, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is an [InvocationError] that may succeed
// on another attempt.
func IsRetryable(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie) && ie.Retryable
}
