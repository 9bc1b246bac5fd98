package discourse

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when there is no text to segment.
var ErrEmptyInput = errors.New("discourse: empty input")

// Stage names used in [DriftError] and metrics.
const (
	StageParagraph = "paragraph"
	StageUnit      = "unit"
)

// DriftError reports that the oracle never produced a split that
// reconstructs the source exactly within the attempt budget.
type DriftError struct {
	// Stage is [StageParagraph] or [StageUnit].
	Stage string

	// Attempts is the number of oracle calls made.
	Attempts int

	// Detail describes the last observed mismatch.
	Detail string

	// Err is the failure of the last attempt.
	Err error
}

// Error implements error.
func (e *DriftError) Error() string {
	return fmt.Sprintf("discourse: %s segmentation drift after %d attempts: %s", e.Stage, e.Attempts, e.Detail)
}

// Unwrap returns the last attempt's failure.
func (e *DriftError) Unwrap() error { return e.Err }

// BoundaryNotFoundError reports that a unit's first token does not occur in
// the paragraph at or after the search cursor, meaning the oracle produced
// text that is not in the source.
type BoundaryNotFoundError struct {
	// Unit is the 0-based position of the unit within the oracle's answer.
	Unit int

	// Token is the first token that was searched for.
	Token string

	// Cursor is the byte offset the search started from.
	Cursor int
}

// Error implements error.
func (e *BoundaryNotFoundError) Error() string {
	return fmt.Sprintf("discourse: unit %d: token %q not found at or after offset %d", e.Unit, e.Token, e.Cursor)
}

// mismatchError is an attempt-level verification failure: the joined
// pieces do not equal the source.
type mismatchError struct {
	detail string
}

func (e *mismatchError) Error() string { return "reconstruction mismatch: " + e.detail }

// verifyJoin checks that pieces concatenate to want exactly.
func verifyJoin(pieces []string, want string) error {
	n := 0
	for _, p := range pieces {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range pieces {
		buf = append(buf, p...)
	}
	got := string(buf)
	if got == want {
		return nil
	}
	return &mismatchError{detail: describeMismatch(got, want)}
}

// describeMismatch summarises where got diverges from want.
func describeMismatch(got, want string) string {
	i := 0
	for i < len(got) && i < len(want) && got[i] == want[i] {
		i++
	}
	return fmt.Sprintf("got %d bytes, want %d; first difference at byte %d: got %q, want %q",
		len(got), len(want), i, window(got, i), window(want, i))
}

// window returns up to 20 bytes of s starting at i.
func window(s string, i int) string {
	if i >= len(s) {
		return ""
	}
	return s[i:min(len(s), i+20)]
}

// retryReason classifies an attempt failure for logs and metrics.
func retryReason(err error) string {
	var (
		bnf *BoundaryNotFoundError
		mm  *mismatchError
	)
	switch {
	case errors.As(err, &bnf):
		return "boundary_not_found"
	case errors.As(err, &mm):
		return "drift"
	case isInvocation(err):
		return "invocation"
	default:
		return "invalid"
	}
}
