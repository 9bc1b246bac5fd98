// Package transcript prepares time-coded transcripts for discourse
// segmentation and maps the resulting units back onto time.
//
// The flow around package discourse is:
//
//  1. [PostProcessor.Process] collapses short silences into their neighbours
//     and strips leading punctuation from words.
//  2. [Article] concatenates the word texts into the text handed to the
//     segmenter.
//  3. [Realign] walks the same post-processed segments again, assigns every
//     word to exactly one unit, and merges the words of each unit into one
//     time-coded segment.
package transcript

import (
	"fmt"
	"strings"

	"github.com/MrWong99/edualign/pkg/types"
)

// Article returns the concatenation of the text of every word segment, in
// order, with no separator.
func Article(segments []types.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.IsWord() {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// CountWords returns the number of word segments in segments.
func CountWords(segments []types.Segment) int {
	n := 0
	for _, s := range segments {
		if s.IsWord() {
			n++
		}
	}
	return n
}

// InvalidSegmentError reports a segment with impossible timing.
type InvalidSegmentError struct {
	// Index is the position of the segment in the input.
	Index int

	// Reason describes the problem.
	Reason string
}

// Error implements error.
func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("transcript: segment %d: %s", e.Index, e.Reason)
}

// Validate checks that word segments have a positive duration, that no
// segment ends before it starts and that segments do not start before their
// predecessor.
func Validate(segments []types.Segment) error {
	for i, s := range segments {
		if s.EndMs < s.StartMs {
			return &InvalidSegmentError{Index: i, Reason: fmt.Sprintf("end %d before start %d", s.EndMs, s.StartMs)}
		}
		if s.IsWord() && s.EndMs == s.StartMs {
			return &InvalidSegmentError{Index: i, Reason: fmt.Sprintf("word has zero duration at %d", s.StartMs)}
		}
		if i > 0 && s.StartMs < segments[i-1].StartMs {
			return &InvalidSegmentError{Index: i, Reason: "segments are not ordered by start time"}
		}
	}
	return nil
}
