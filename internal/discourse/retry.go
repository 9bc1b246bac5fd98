package discourse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/oracle"
)

// retryPolicy drives one generate-and-verify loop.
type retryPolicy struct {
	stage    string
	attempts int
	backoff  time.Duration
	metrics  *observe.Metrics
}

// run calls attempt until it succeeds or the budget is spent. Effort rises
// with the attempt number. A non-retryable [oracle.InvocationError] aborts
// at once. When the budget runs out the last failure is returned as a
// [DriftError], unless it was an invocation failure, which is returned as is.
func run[T any](ctx context.Context, p retryPolicy, attempt func(context.Context, oracle.Effort) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := max(p.attempts, 1)
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("discourse: %s: %w", p.stage, err)
		}

		out, err := attempt(ctx, oracle.EffortForAttempt(n))
		if err == nil {
			return out, nil
		}
		lastErr = err

		var ie *oracle.InvocationError
		invocation := errors.As(err, &ie)
		if invocation && !ie.Retryable {
			return zero, fmt.Errorf("discourse: %s: %w", p.stage, err)
		}
		if n == attempts {
			break
		}

		reason := retryReason(err)
		observe.Logger(ctx).Warn("discourse: attempt failed, retrying",
			"stage", p.stage,
			"attempt", n,
			"reason", reason,
			"err", err,
		)
		if p.metrics != nil {
			p.metrics.RecordRetry(ctx, p.stage, reason)
		}
		if invocation && p.backoff > 0 {
			if err := sleep(ctx, p.backoff<<(n-1)); err != nil {
				return zero, fmt.Errorf("discourse: %s: %w", p.stage, err)
			}
		}
	}

	if isInvocation(lastErr) {
		return zero, fmt.Errorf("discourse: %s: %w", p.stage, lastErr)
	}
	return zero, &DriftError{
		Stage:    p.stage,
		Attempts: attempts,
		Detail:   lastErr.Error(),
		Err:      lastErr,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isInvocation(err error) bool {
	var ie *oracle.InvocationError
	return errors.As(err, &ie)
}
