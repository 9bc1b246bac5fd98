// Package discourse turns an article into a globally indexed sequence of
// elementary discourse units (EDUs).
//
// The segmentation itself is delegated to an untrusted [oracle.Oracle]. This
// package owns everything around it: exact-reconstruction checks for
// paragraphs and units, the boundary correction that re-derives exact slice
// points from the oracle's first tokens, bounded retries with rising effort,
// and the parallel per-paragraph fan-out that stitches the final index.
//
// Every successful result satisfies:
//
//   - the paragraphs concatenate to the article byte-for-byte;
//   - within a paragraph, the unit contents concatenate to the paragraph;
//   - unit indices are exactly 0..N-1 in article order.
package discourse

import (
	"fmt"
	"strings"
)

// Tag is the rhetorical role of a discourse unit.
type Tag string

// The discourse-tag taxonomy.
const (
	TagBackground  Tag = "BG"
	TagClaim       Tag = "CL"
	TagEvidence    Tag = "EV"
	TagExample     Tag = "EX"
	TagConcession  Tag = "CS"
	TagRebuttal    Tag = "RB"
	TagImplication Tag = "IM"
)

// Tags lists every valid tag in taxonomy order.
var Tags = []Tag{
	TagBackground, TagClaim, TagEvidence, TagExample,
	TagConcession, TagRebuttal, TagImplication,
}

var tagNames = map[Tag]string{
	TagBackground:  "background",
	TagClaim:       "claim",
	TagEvidence:    "evidence",
	TagExample:     "example",
	TagConcession:  "concession",
	TagRebuttal:    "rebuttal",
	TagImplication: "implication",
}

// Name returns the long name of t ("claim" for CL), or "" for unknown tags.
func (t Tag) Name() string {
	return tagNames[t]
}

// Valid reports whether t is one of the seven taxonomy tags.
func (t Tag) Valid() bool {
	_, ok := tagNames[t]
	return ok
}

// ParseTag normalises an oracle-supplied tag. It accepts the two-letter code
// or the long name in any case and surrounding whitespace.
func ParseTag(s string) (Tag, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if t := Tag(norm); t.Valid() {
		return t, nil
	}
	lower := strings.ToLower(norm)
	for t, name := range tagNames {
		if name == lower {
			return t, nil
		}
	}
	return "", fmt.Errorf("discourse: unknown tag %q", s)
}

// Unit is one finalized discourse unit. Content is an exact substring of the
// article.
type Unit struct {
	// Index is the 0-based position of the unit across the whole article.
	Index int `json:"global_index"`

	// Content is the exact text of the unit.
	Content string `json:"content"`

	// Tag is the rhetorical role of the unit.
	Tag Tag `json:"tag"`
}

// Assembly is the output of [Assembler.Assemble].
type Assembly struct {
	// Paragraphs are the verified, non-empty paragraphs in article order.
	Paragraphs []string

	// Units are the globally indexed units in article order.
	Units []Unit
}
