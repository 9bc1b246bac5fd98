package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/edualign/pkg/types"
)

// ErrUnknownInput is returned by [DecodeSegments] when the payload matches
// none of the accepted shapes.
var ErrUnknownInput = errors.New("transcript: unrecognised input; want a segment array, {\"segments\": [...]} or {\"words\": [...]}")

// sttWord is one entry of a speech-to-text "words" payload. Times are in
// seconds.
type sttWord struct {
	Text      string   `json:"text"`
	Start     float64  `json:"start"`
	End       float64  `json:"end"`
	Type      string   `json:"type"`
	SpeakerID string   `json:"speaker_id"`
	Logprob   *float64 `json:"logprob"`
}

type envelope struct {
	Segments []types.Segment `json:"segments"`
	Words    []sttWord       `json:"words"`
}

// DecodeSegments parses a transcript in one of three shapes:
//
//   - a bare JSON array of segments with millisecond times;
//   - an object {"segments": [...]} holding the same;
//   - a speech-to-text result {"words": [...]} with times in seconds, as
//     produced by ElevenLabs Scribe.
//
// Seconds are rounded to the nearest millisecond. A word's logprob, when
// present, becomes its confidence (exp(logprob)).
func DecodeSegments(data []byte) ([]types.Segment, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrUnknownInput
	}

	if data[0] == '[' {
		var segs []types.Segment
		if err := json.Unmarshal(data, &segs); err != nil {
			return nil, fmt.Errorf("transcript: decode segment array: %w", err)
		}
		return segs, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("transcript: decode input: %w", err)
	}
	switch {
	case env.Segments != nil:
		return env.Segments, nil
	case env.Words != nil:
		return fromWords(env.Words), nil
	}
	return nil, ErrUnknownInput
}

func fromWords(words []sttWord) []types.Segment {
	segs := make([]types.Segment, len(words))
	for i, w := range words {
		typ := types.SegmentType(w.Type)
		if typ == "" {
			typ = types.SegmentWord
		}
		segs[i] = types.Segment{
			ID:        fmt.Sprintf("w%d", i),
			Type:      typ,
			Text:      w.Text,
			StartMs:   secondsToMs(w.Start),
			EndMs:     secondsToMs(w.End),
			SpeakerID: w.SpeakerID,
		}
		if w.Logprob != nil {
			c := math.Exp(*w.Logprob)
			segs[i].Confidence = &c
		}
	}
	return segs
}

func secondsToMs(s float64) int64 {
	return int64(math.Round(s * 1000))
}
