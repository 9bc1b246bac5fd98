// Package types defines the shared types used across all edualign packages.
//
// These types form the lingua franca between the transcription input, the
// discourse pipeline, the LLM providers, and the persistence layer. Each package
// defines its own domain types; cross-cutting data structures live here to
// avoid circular imports.
package types

// SegmentType classifies a transcript segment.
type SegmentType string

const (
	// SegmentWord is a spoken word. Only word segments contribute to the
	// article text and are mapped onto discourse units.
	SegmentWord SegmentType = "word"

	// SegmentSpacing is a silence or pause between words.
	SegmentSpacing SegmentType = "spacing"

	// SegmentAudioEvent is a non-speech audio annotation (laughter, music).
	SegmentAudioEvent SegmentType = "audio_event"
)

// Segment is one time-coded element of a transcript as produced by the
// speech-to-text collaborator. Segments are ordered by time; word segments
// must satisfy StartMs < EndMs.
type Segment struct {
	// ID is the provider-assigned identifier. May be empty.
	ID string `json:"id,omitempty"`

	// Type is "word", "spacing", or any other provider-specific kind.
	Type SegmentType `json:"type"`

	// Text is the exact text of the segment. For word segments it is copied
	// byte-for-byte into the article.
	Text string `json:"text"`

	// StartMs is the segment start in milliseconds from the beginning of the
	// recording.
	StartMs int64 `json:"start_ms"`

	// EndMs is the segment end in milliseconds.
	EndMs int64 `json:"end_ms"`

	// SpeakerID identifies the speaker when diarization is active. It is
	// passed through, never computed.
	SpeakerID string `json:"speaker_id,omitempty"`

	// Confidence is the recognition confidence (0.0–1.0), when reported.
	Confidence *float64 `json:"confidence,omitempty"`
}

// IsWord reports whether s is a word segment.
func (s Segment) IsWord() bool {
	return s.Type == SegmentWord
}

// DurationMs returns EndMs - StartMs.
func (s Segment) DurationMs() int64 {
	return s.EndMs - s.StartMs
}

// RealignedSegment is the output unit of the pipeline: either one or more
// consecutive word segments merged because they belong to the same discourse
// unit, or a non-word segment passed through unchanged.
type RealignedSegment struct {
	// ID is a sequential identifier assigned by the realigner ("0", "1", ...).
	ID string `json:"id"`

	// Type mirrors the source segment type. Merged word runs are "word".
	Type SegmentType `json:"type"`

	// Text is the concatenation of the merged words' text, in order.
	Text string `json:"text"`

	// StartMs is the start of the first merged word.
	StartMs int64 `json:"start_ms"`

	// EndMs is the end of the last merged word.
	EndMs int64 `json:"end_ms"`

	// SpeakerID is copied from the first word of the run.
	SpeakerID string `json:"speaker_id,omitempty"`

	// Confidence is copied from the first word of the run.
	Confidence *float64 `json:"confidence,omitempty"`

	// Unit is the global index of the discourse unit this segment belongs to,
	// or -1 for pass-through non-word segments.
	Unit int `json:"unit"`
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsJSONMode indicates the model can be constrained to emit a JSON object.
	SupportsJSONMode bool
}
