package transcript_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/edualign/internal/transcript"
	"github.com/MrWong99/edualign/pkg/types"
)

func TestDecodeSegments_Array(t *testing.T) {
	t.Parallel()
	segs, err := transcript.DecodeSegments([]byte(`[
		{"id":"a","type":"word","text":"Hi","start_ms":0,"end_ms":200},
		{"type":"spacing","text":" ","start_ms":200,"end_ms":260}
	]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].ID != "a" || segs[0].EndMs != 200 || !segs[0].IsWord() {
		t.Errorf("segs[0] = %+v", segs[0])
	}
	if segs[1].Type != types.SegmentSpacing {
		t.Errorf("segs[1].Type = %q, want spacing", segs[1].Type)
	}
}

func TestDecodeSegments_Envelope(t *testing.T) {
	t.Parallel()
	segs, err := transcript.DecodeSegments([]byte(`{"segments":[{"type":"word","text":"Go","start_ms":5,"end_ms":9}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "Go" || segs[0].StartMs != 5 {
		t.Errorf("segments = %+v", segs)
	}
}

func TestDecodeSegments_Words(t *testing.T) {
	t.Parallel()
	segs, err := transcript.DecodeSegments([]byte(`{
		"language_code":"en",
		"text":"Hello world",
		"words":[
			{"text":"Hello","start":0.119,"end":0.5,"type":"word","speaker_id":"speaker_0","logprob":0},
			{"text":" ","start":0.5,"end":0.52,"type":"spacing"},
			{"text":"world","start":0.52,"end":1.0016}
		]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}

	if segs[0].StartMs != 119 || segs[0].EndMs != 500 {
		t.Errorf("segs[0] times = %d-%d, want 119-500", segs[0].StartMs, segs[0].EndMs)
	}
	if segs[0].SpeakerID != "speaker_0" || segs[0].ID != "w0" {
		t.Errorf("segs[0] = %+v", segs[0])
	}
	if segs[0].Confidence == nil || math.Abs(*segs[0].Confidence-1) > 1e-9 {
		t.Errorf("segs[0].Confidence = %v, want 1", segs[0].Confidence)
	}
	if segs[1].Type != types.SegmentSpacing || segs[1].Confidence != nil {
		t.Errorf("segs[1] = %+v", segs[1])
	}
	if segs[2].Type != types.SegmentWord {
		t.Errorf("missing type should default to word, got %q", segs[2].Type)
	}
	if segs[2].EndMs != 1002 {
		t.Errorf("segs[2].EndMs = %d, want 1002 (rounded)", segs[2].EndMs)
	}
}

func TestDecodeSegments_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		unknown bool
	}{
		{"empty", "  ", true},
		{"object without known keys", `{"foo":1}`, true},
		{"broken json", `{"segments":[`, false},
		{"wrong element type", `[1,2,3]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := transcript.DecodeSegments([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := errors.Is(err, transcript.ErrUnknownInput); got != tt.unknown {
				t.Errorf("errors.Is(ErrUnknownInput) = %v, want %v (err: %v)", got, tt.unknown, err)
			}
		})
	}
}
