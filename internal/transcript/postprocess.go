package transcript

import (
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/edualign/pkg/types"
)

// DefaultSpacingThreshold is the spacing duration below which a silence is
// folded into its neighbours.
const DefaultSpacingThreshold = 400 * time.Millisecond

// PostProcessOption is a functional option for configuring a [PostProcessor].
type PostProcessOption func(*PostProcessor)

// WithSpacingThreshold sets the collapse threshold. Spacing segments whose
// duration is strictly below d are removed. Zero disables collapsing.
// Default: [DefaultSpacingThreshold].
func WithSpacingThreshold(d time.Duration) PostProcessOption {
	return func(p *PostProcessor) {
		if d >= 0 {
			p.threshold = d
		}
	}
}

// PostProcessor normalises a transcript before segmentation. It never fails.
// PostProcessor is safe for concurrent use.
type PostProcessor struct {
	threshold time.Duration
}

// NewPostProcessor returns a [PostProcessor] configured by opts.
func NewPostProcessor(opts ...PostProcessOption) *PostProcessor {
	p := &PostProcessor{threshold: DefaultSpacingThreshold}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Threshold returns the configured collapse threshold.
func (p *PostProcessor) Threshold() time.Duration {
	return p.threshold
}

// Process returns a normalised copy of segments; the input is not modified.
//
// Each spacing segment shorter than the threshold is removed and its
// duration split between its neighbours: the first half extends the
// previous segment's end, the second half moves the next segment's start
// earlier. Afterwards every word longer than one rune loses its leading run
// of whitespace, punctuation and symbols. Running Process on its own output
// changes nothing.
func (p *PostProcessor) Process(segments []types.Segment) []types.Segment {
	out := slices.Clone(segments)
	out = p.collapseSpacing(out)
	for i := range out {
		if out[i].IsWord() {
			out[i].Text = stripLeading(out[i].Text)
		}
	}
	return out
}

func (p *PostProcessor) collapseSpacing(segs []types.Segment) []types.Segment {
	if p.threshold <= 0 {
		return segs
	}
	limit := p.threshold.Milliseconds()
	for i := 0; i < len(segs); {
		s := segs[i]
		d := s.DurationMs()
		if s.Type != types.SegmentSpacing || d >= limit {
			i++
			continue
		}
		d = max(d, 0)
		first := d / 2
		second := d - first
		if i > 0 {
			segs[i-1].EndMs += first
		}
		if i+1 < len(segs) {
			segs[i+1].StartMs -= second
		}
		// The next segment now sits at i; look at it before advancing.
		segs = slices.Delete(segs, i, i+1)
	}
	return segs
}

// stripLeading removes the leading whitespace/punctuation/symbol run of s.
// Strings of at most one rune are returned unchanged.
//
// This departs from a literal "strip the whole run": a word made only of
// punctuation, such as "...", keeps its last rune instead of becoming "".
// No word segment is emptied, and the result is one rune long, so a second
// pass leaves it alone.
func stripLeading(s string) string {
	if utf8.RuneCountInString(s) <= 1 {
		return s
	}
	trimmed := strings.TrimLeftFunc(s, isStrippable)
	if trimmed == "" {
		_, size := utf8.DecodeLastRuneInString(s)
		return s[len(s)-size:]
	}
	return trimmed
}

func isStrippable(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}
