package discourse

import (
	"time"

	"github.com/MrWong99/edualign/internal/observe"
)

const (
	defaultParagraphAttempts = 2
	defaultUnitAttempts      = 3
	defaultConcurrency       = 4
)

// settings collects the tunables shared by the splitters and the assembler.
type settings struct {
	paragraphAttempts int
	unitAttempts      int
	concurrency       int
	backoff           time.Duration
	metrics           *observe.Metrics
}

func newSettings(opts []Option) settings {
	s := settings{
		paragraphAttempts: defaultParagraphAttempts,
		unitAttempts:      defaultUnitAttempts,
		concurrency:       defaultConcurrency,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option is a functional option for the splitters and [Assembler].
type Option func(*settings)

// WithParagraphAttempts sets how many oracle calls the paragraph splitter may
// make per article. Default: 2.
func WithParagraphAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.paragraphAttempts = n
		}
	}
}

// WithUnitAttempts sets how many oracle calls the unit splitter may make per
// paragraph. Default: 3.
func WithUnitAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.unitAttempts = n
		}
	}
}

// WithMaxConcurrency bounds the number of paragraphs whose units are
// requested concurrently. Default: 4.
func WithMaxConcurrency(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRetryBackoff sets the base delay before retrying after a retryable
// oracle invocation failure. The delay doubles with every attempt.
// Verification failures are retried immediately. Default: 0.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithMetrics records retries and produced units on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}
