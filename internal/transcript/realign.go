package transcript

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/edualign/internal/discourse"
	"github.com/MrWong99/edualign/pkg/types"
)

// Unassigned marks non-word segments in a mapping.
const Unassigned = -1

// MismatchError reports that the word stream does not spell out the unit
// contents. It is deterministic: the same input always fails the same way.
type MismatchError struct {
	// Segment is the index of the offending segment, or len(segments) when
	// the words ran out before the units did.
	Segment int

	// Unit is the position of the unit being filled, or len(units) when the
	// units ran out before the words did.
	Unit int

	// Candidate is the text accumulated for Unit including the offending word.
	Candidate string

	// Expected is the content of Unit, or "" when the units ran out.
	Expected string
}

// Error implements error.
func (e *MismatchError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("transcript: segment %d: no unit left for %q", e.Segment, e.Candidate)
	}
	return fmt.Sprintf("transcript: segment %d does not fit unit %d: have %q, unit is %q",
		e.Segment, e.Unit, e.Candidate, e.Expected)
}

// phase is the state of the word-to-unit mapping.
type phase int

const (
	// accumulating: the current unit is partly filled (or not started).
	accumulating phase = iota
	// unitComplete: the last word exactly completed a unit.
	unitComplete
	// failed: a word did not fit; no further input is accepted.
	failed
)

// mapState is the immutable state threaded through [Map].
type mapState struct {
	phase       phase
	unit        int
	accumulated string
}

// step consumes one word and returns the next state together with the unit
// the word was assigned to.
func (s mapState) step(word string, units []discourse.Unit) (mapState, int, bool) {
	if s.phase == failed {
		return s, Unassigned, false
	}
	// A zero-length word after the final unit belongs to that unit.
	if word == "" && s.unit == len(units) && len(units) > 0 {
		return s, len(units) - 1, true
	}
	if s.unit >= len(units) {
		return mapState{phase: failed, unit: s.unit, accumulated: word}, Unassigned, false
	}

	content := units[s.unit].Content
	candidate := s.accumulated + word
	switch {
	case candidate == content:
		return mapState{phase: unitComplete, unit: s.unit + 1}, s.unit, true
	case strings.HasPrefix(content, candidate):
		return mapState{phase: accumulating, unit: s.unit, accumulated: candidate}, s.unit, true
	default:
		return mapState{phase: failed, unit: s.unit, accumulated: candidate}, Unassigned, false
	}
}

// Map assigns every word segment to the position of a unit in units. The
// result has one entry per segment; non-word segments get [Unassigned].
// Every unit must be spelled out exactly by a run of consecutive words;
// otherwise a [*MismatchError] is returned.
func Map(segments []types.Segment, units []discourse.Unit) ([]int, error) {
	mapping := make([]int, len(segments))
	state := mapState{}
	for i, seg := range segments {
		if !seg.IsWord() {
			mapping[i] = Unassigned
			continue
		}
		next, unit, ok := state.step(seg.Text, units)
		if !ok {
			e := &MismatchError{Segment: i, Unit: next.unit, Candidate: next.accumulated}
			if next.unit < len(units) {
				e.Expected = units[next.unit].Content
			}
			return nil, e
		}
		mapping[i] = unit
		state = next
	}
	if state.unit < len(units) {
		return nil, &MismatchError{
			Segment:   len(segments),
			Unit:      state.unit,
			Candidate: state.accumulated,
			Expected:  units[state.unit].Content,
		}
	}
	return mapping, nil
}

// Merge builds the realigned sequence from segments and a mapping produced
// by [Map]. Non-word segments are emitted as they are. All words mapped to
// the same unit are merged into the single segment opened by the first of
// them: its text grows by each word and its end moves to the last word's
// end. IDs are assigned sequentially from "0".
func Merge(segments []types.Segment, mapping []int, units []discourse.Unit) []types.RealignedSegment {
	out := make([]types.RealignedSegment, 0, len(units)+len(segments)-CountWords(segments))
	open, openUnit := -1, Unassigned
	for i, seg := range segments {
		unit := mapping[i]
		if unit == Unassigned {
			out = append(out, types.RealignedSegment{
				ID:         strconv.Itoa(len(out)),
				Type:       seg.Type,
				Text:       seg.Text,
				StartMs:    seg.StartMs,
				EndMs:      seg.EndMs,
				SpeakerID:  seg.SpeakerID,
				Confidence: seg.Confidence,
				Unit:       Unassigned,
			})
			continue
		}
		if open >= 0 && unit == openUnit {
			out[open].Text += seg.Text
			out[open].EndMs = seg.EndMs
			continue
		}
		open, openUnit = len(out), unit
		out = append(out, types.RealignedSegment{
			ID:         strconv.Itoa(len(out)),
			Type:       types.SegmentWord,
			Text:       seg.Text,
			StartMs:    seg.StartMs,
			EndMs:      seg.EndMs,
			SpeakerID:  seg.SpeakerID,
			Confidence: seg.Confidence,
			Unit:       units[unit].Index,
		})
	}
	return out
}

// Realign maps segments onto units and merges them. segments must be the
// same post-processed sequence whose [Article] was segmented into units.
func Realign(segments []types.Segment, units []discourse.Unit) ([]types.RealignedSegment, error) {
	mapping, err := Map(segments, units)
	if err != nil {
		return nil, err
	}
	return Merge(segments, mapping, units), nil
}
