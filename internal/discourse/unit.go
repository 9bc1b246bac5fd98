package discourse

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/edualign/internal/oracle"
)

// errNoUnits is an attempt failure: the oracle answered with an empty list.
var errNoUnits = errors.New("discourse: oracle returned no units")

// UnitSplitter splits one paragraph into tagged discourse units. The
// oracle's unit text is only used to locate boundaries; the returned
// contents are exact slices of the paragraph.
type UnitSplitter struct {
	oracle oracle.Oracle
	policy retryPolicy
}

// NewUnitSplitter returns a [UnitSplitter] that calls o.
func NewUnitSplitter(o oracle.Oracle, opts ...Option) *UnitSplitter {
	s := newSettings(opts)
	return &UnitSplitter{
		oracle: o,
		policy: retryPolicy{
			stage:    StageUnit,
			attempts: s.unitAttempts,
			backoff:  s.backoff,
			metrics:  s.metrics,
		},
	}
}

// Split returns the corrected units of paragraph in order. Index is left at
// zero; [Assembler] assigns global indices.
func (s *UnitSplitter) Split(ctx context.Context, paragraph string) ([]Unit, error) {
	if paragraph == "" {
		return nil, ErrEmptyInput
	}

	return run(ctx, s.policy, func(ctx context.Context, effort oracle.Effort) ([]Unit, error) {
		proposed, err := s.oracle.SplitUnits(ctx, paragraph, effort)
		if err != nil {
			return nil, err
		}
		units, err := Correct(paragraph, proposed)
		if err != nil {
			return nil, err
		}
		contents := make([]string, len(units))
		for i, u := range units {
			contents[i] = u.Content
		}
		if err := verifyJoin(contents, paragraph); err != nil {
			return nil, err
		}
		return units, nil
	})
}

// Correct rebuilds the oracle's proposed units as exact slices of paragraph.
//
// The first token of each proposed unit is searched in paragraph from a
// cursor that only moves forward; each hit starts a unit that runs up to the
// next hit. The first unit always starts at offset 0. Proposed units without
// any word token are dropped and their text falls to the neighbouring unit.
// A token that cannot be found yields a [*BoundaryNotFoundError]; an unknown
// tag or an empty proposal is also an error.
func Correct(paragraph string, proposed []oracle.Unit) ([]Unit, error) {
	if len(proposed) == 0 {
		return nil, errNoUnits
	}

	type anchor struct {
		offset int
		tag    Tag
	}
	anchors := make([]anchor, 0, len(proposed))
	cursor := 0
	for i, u := range proposed {
		tag, err := ParseTag(u.Tag)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
		token := FirstToken(u.Content)
		if token == "" {
			continue
		}
		start, end, ok := findBoundary(paragraph, token, cursor)
		if !ok {
			return nil, &BoundaryNotFoundError{Unit: i, Token: token, Cursor: cursor}
		}
		anchors = append(anchors, anchor{offset: start, tag: tag})
		cursor = end
	}

	if len(anchors) == 0 {
		tag, _ := ParseTag(proposed[0].Tag)
		return []Unit{{Content: paragraph, Tag: tag}}, nil
	}

	anchors[0].offset = 0
	units := make([]Unit, len(anchors))
	for i, a := range anchors {
		end := len(paragraph)
		if i+1 < len(anchors) {
			end = anchors[i+1].offset
		}
		units[i] = Unit{Content: paragraph[a.offset:end], Tag: a.tag}
	}
	return units, nil
}
