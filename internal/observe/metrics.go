// Package observe carries edualign's telemetry: OpenTelemetry instruments,
// spans, context-scoped loggers and the HTTP middleware that joins them.
//
// Instruments are created against any [metric.MeterProvider]. [InitProvider]
// backs them with a Prometheus registry for the /metrics endpoint. Code
// without a [Telemetry] handle records through [DefaultMetrics]; tests build
// their own with [NewMetrics] and an SDK reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/edualign"

// Metrics groups the instruments recorded by the pipeline, the oracles and
// the HTTP layer. Instruments are safe for concurrent use.
type Metrics struct {
	// OracleDuration is the latency of one oracle call, by op.
	OracleDuration metric.Float64Histogram
	// PipelineDuration is the wall time of realigning one transcript.
	PipelineDuration metric.Float64Histogram
	// HTTPRequestDuration is keyed by method, route and status.
	HTTPRequestDuration metric.Float64Histogram

	OracleRequests     metric.Int64Counter // provider, op, status
	OracleRetries      metric.Int64Counter // stage, reason
	PipelineRuns       metric.Int64Counter // status
	UnitsProduced      metric.Int64Counter // tag
	ProviderErrors     metric.Int64Counter // provider, kind
	BreakerTransitions metric.Int64Counter // provider, to

	// ActiveJobs is the number of realignment jobs in flight.
	ActiveJobs metric.Int64UpDownCounter
}

// LLM round trips range from well under a second to about a minute.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120}

// instruments creates instruments on one meter and keeps the first errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.check(name, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.check(name, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.check(name, err)
	return g
}

func (b *instruments) check(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s: %w", name, err))
	}
}

// NewMetrics creates every edualign instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		OracleDuration:      b.histogram("edualign.oracle.duration", "Latency of one segmentation oracle call.", latencyBuckets...),
		PipelineDuration:    b.histogram("edualign.pipeline.duration", "Wall time of realigning one transcript.", latencyBuckets...),
		HTTPRequestDuration: b.histogram("edualign.http.request.duration", "HTTP request latency by method, route and status."),

		OracleRequests:     b.counter("edualign.oracle.requests", "Oracle calls by provider, operation and status."),
		OracleRetries:      b.counter("edualign.oracle.retries", "Retried oracle attempts by stage and reason."),
		PipelineRuns:       b.counter("edualign.pipeline.runs", "Pipeline runs by outcome."),
		UnitsProduced:      b.counter("edualign.units.produced", "Discourse units emitted by tag."),
		ProviderErrors:     b.counter("edualign.provider.errors", "Provider errors by provider and kind."),
		BreakerTransitions: b.counter("edualign.breaker.transitions", "LLM backend breaker state changes by provider and target state."),

		ActiveJobs: b.gauge("edualign.active_jobs", "Realignment jobs in flight."),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider the first time it is called.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func add(ctx context.Context, c metric.Int64Counter, kv ...string) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOracleRequest counts one oracle call.
func (m *Metrics) RecordOracleRequest(ctx context.Context, provider, op, status string) {
	add(ctx, m.OracleRequests, "provider", provider, "op", op, "status", status)
}

// RecordRetry counts one retried attempt for stage ("paragraph" or "unit").
func (m *Metrics) RecordRetry(ctx context.Context, stage, reason string) {
	add(ctx, m.OracleRetries, "stage", stage, "reason", reason)
}

// RecordPipelineRun counts one finished pipeline run.
func (m *Metrics) RecordPipelineRun(ctx context.Context, status string) {
	add(ctx, m.PipelineRuns, "status", status)
}

// RecordUnit counts one emitted discourse unit.
func (m *Metrics) RecordUnit(ctx context.Context, tag string) {
	add(ctx, m.UnitsProduced, "tag", tag)
}

// RecordProviderError counts one provider failure of the given kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	add(ctx, m.ProviderErrors, "provider", provider, "kind", kind)
}

// RecordBreakerTransition counts a breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	add(ctx, m.BreakerTransitions, "provider", provider, "to", to)
}
