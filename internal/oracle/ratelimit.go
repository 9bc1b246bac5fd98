package oracle

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// ErrRateLimited reports that the call could not get a rate-limit token
// before the context deadline. It matches [context.DeadlineExceeded] too.
var ErrRateLimited = errors.New("oracle: rate limit wait exceeds deadline")

// rateLimited wraps an [Oracle] so that every call first waits on a shared
// token-bucket limiter.
type rateLimited struct {
	next    Oracle
	limiter *rate.Limiter
}

// WithRateLimit returns an [Oracle] that admits at most perMinute calls per
// minute across all goroutines sharing it. A non-positive perMinute returns
// o unchanged.
//
// A failed wait is returned as a non-retryable [InvocationError].
func WithRateLimit(o Oracle, perMinute int) Oracle {
	if perMinute <= 0 {
		return o
	}
	// Tokens per second = RPM / 60, burst 1.
	return &rateLimited{
		next:    o,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

func (r *rateLimited) SplitParagraphs(ctx context.Context, article string, effort Effort) ([]string, error) {
	if err := r.wait(ctx, OpSplitParagraphs); err != nil {
		return nil, err
	}
	return r.next.SplitParagraphs(ctx, article, effort)
}

func (r *rateLimited) SplitUnits(ctx context.Context, paragraph string, effort Effort) ([]Unit, error) {
	if err := r.wait(ctx, OpSplitUnits); err != nil {
		return nil, err
	}
	return r.next.SplitUnits(ctx, paragraph, effort)
}

func (r *rateLimited) wait(ctx context.Context, op string) error {
	err := r.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	// With burst 1 the limiter only fails on a done context or when the
	// reservation would land past the deadline.
	if ctx.Err() == nil {
		err = fmt.Errorf("%w: %w: %v", ErrRateLimited, context.DeadlineExceeded, err)
	}
	ie := NewInvocationError(ctx, op, err)
	ie.Retryable = false
	return ie
}
