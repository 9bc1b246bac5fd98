package discourse

import (
	"context"

	"github.com/MrWong99/edualign/internal/oracle"
)

// ParagraphSplitter splits an article into paragraphs with the oracle and
// verifies that they reconstruct the article exactly.
type ParagraphSplitter struct {
	oracle oracle.Oracle
	policy retryPolicy
}

// NewParagraphSplitter returns a [ParagraphSplitter] that calls o.
func NewParagraphSplitter(o oracle.Oracle, opts ...Option) *ParagraphSplitter {
	s := newSettings(opts)
	return &ParagraphSplitter{
		oracle: o,
		policy: retryPolicy{
			stage:    StageParagraph,
			attempts: s.paragraphAttempts,
			backoff:  s.backoff,
			metrics:  s.metrics,
		},
	}
}

// Split returns the non-empty paragraphs of article in order. Their
// concatenation equals article byte-for-byte.
func (s *ParagraphSplitter) Split(ctx context.Context, article string) ([]string, error) {
	if article == "" {
		return nil, ErrEmptyInput
	}

	paragraphs, err := run(ctx, s.policy, func(ctx context.Context, effort oracle.Effort) ([]string, error) {
		proposed, err := s.oracle.SplitParagraphs(ctx, article, effort)
		if err != nil {
			return nil, err
		}
		if err := verifyJoin(proposed, article); err != nil {
			return nil, err
		}
		return proposed, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
