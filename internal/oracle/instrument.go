package oracle

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/resilience"
	"github.com/MrWong99/edualign/pkg/provider/llm"
)

// instrumented records latency and outcome of every oracle call.
type instrumented struct {
	next     Oracle
	metrics  *observe.Metrics
	provider string
}

// WithMetrics returns an [Oracle] that records call duration, request counts,
// and provider errors on m. provider labels the backend in metrics.
func WithMetrics(o Oracle, m *observe.Metrics, provider string) Oracle {
	if m == nil {
		return o
	}
	return &instrumented{next: o, metrics: m, provider: provider}
}

func (i *instrumented) SplitParagraphs(ctx context.Context, article string, effort Effort) ([]string, error) {
	start := time.Now()
	out, err := i.next.SplitParagraphs(ctx, article, effort)
	i.record(ctx, OpSplitParagraphs, start, err)
	return out, err
}

func (i *instrumented) SplitUnits(ctx context.Context, paragraph string, effort Effort) ([]Unit, error) {
	start := time.Now()
	out, err := i.next.SplitUnits(ctx, paragraph, effort)
	i.record(ctx, OpSplitUnits, start, err)
	return out, err
}

func (i *instrumented) record(ctx context.Context, op string, start time.Time, err error) {
	i.metrics.OracleDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op)))
	status := "ok"
	if err != nil {
		status = "error"
		i.metrics.RecordProviderError(ctx, i.provider, ErrorKind(err))
	}
	i.metrics.RecordOracleRequest(ctx, i.provider, op, status)
}

// ErrorKind classifies an oracle failure for the provider error counter.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrAuth):
		return "auth"
	case errors.Is(err, llm.ErrTruncated):
		return "truncated"
	case errors.Is(err, llm.ErrEmptyReply):
		return "empty"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	}
	var ie *InvocationError
	if errors.As(err, &ie) && ie.Retryable {
		return "retryable"
	}
	return "other"
}
