// Package pipeline runs the full realignment of one transcript: post-process
// the segments, segment the article into discourse units, and map the units
// back onto time.
//
// A [Pipeline] holds no per-run state; one instance serves any number of
// concurrent runs.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/edualign/internal/discourse"
	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/oracle"
	"github.com/MrWong99/edualign/internal/transcript"
	"github.com/MrWong99/edualign/pkg/types"
)

// Stats reports sizes and stage timings of one run.
type Stats struct {
	SegmentsIn  int `json:"segments_in"`
	SegmentsOut int `json:"segments_out"`
	Words       int `json:"words"`
	ArticleLen  int `json:"article_bytes"`

	PostProcess  time.Duration `json:"post_process_ns"`
	Segmentation time.Duration `json:"segmentation_ns"`
	Realignment  time.Duration `json:"realignment_ns"`
	Total        time.Duration `json:"total_ns"`
}

// Result is the output of a successful [Pipeline.Run].
type Result struct {
	// Units are the discourse units with their global indices and tags.
	Units []discourse.Unit `json:"units"`

	// Segments is the realigned, time-coded sequence.
	Segments []types.RealignedSegment `json:"segments"`

	// Paragraphs is the number of paragraphs the article was split into.
	Paragraphs int `json:"paragraphs"`

	// Stats describes the run.
	Stats Stats `json:"stats"`
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithSpacingThreshold sets the post-processor's spacing collapse threshold.
func WithSpacingThreshold(d time.Duration) Option {
	return func(p *Pipeline) {
		p.postOpts = append(p.postOpts, transcript.WithSpacingThreshold(d))
	}
}

// WithDiscourseOptions forwards opts to the discourse assembler.
func WithDiscourseOptions(opts ...discourse.Option) Option {
	return func(p *Pipeline) {
		p.discourseOpts = append(p.discourseOpts, opts...)
	}
}

// WithMetrics records run metrics on m and forwards m to the assembler.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline wires the post-processor, the assembler, and the realigner.
type Pipeline struct {
	post      *transcript.PostProcessor
	assembler *discourse.Assembler
	metrics   *observe.Metrics

	postOpts      []transcript.PostProcessOption
	discourseOpts []discourse.Option
}

// New returns a [Pipeline] that segments through o.
func New(o oracle.Oracle, opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics != nil {
		p.discourseOpts = append(p.discourseOpts, discourse.WithMetrics(p.metrics))
	}
	p.post = transcript.NewPostProcessor(p.postOpts...)
	p.assembler = discourse.NewAssembler(o, p.discourseOpts...)
	return p
}

// Run realigns segments. The input slice is not modified. On error no
// partial result is returned.
func (p *Pipeline) Run(ctx context.Context, segments []types.Segment) (res *Result, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.Int("segments", len(segments))),
	)
	defer func() {
		p.record(ctx, start, err)
		observe.EndSpan(span, err)
	}()

	if len(segments) == 0 {
		return nil, fmt.Errorf("pipeline: %w", discourse.ErrEmptyInput)
	}
	if err := transcript.Validate(segments); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	stats := Stats{SegmentsIn: len(segments)}

	t := time.Now()
	processed := p.post.Process(segments)
	article := transcript.Article(processed)
	stats.PostProcess = time.Since(t)
	stats.Words = transcript.CountWords(processed)
	stats.ArticleLen = len(article)
	if article == "" {
		return nil, fmt.Errorf("pipeline: %w", discourse.ErrEmptyInput)
	}

	t = time.Now()
	asm, err := p.assembler.Assemble(ctx, article)
	if err != nil {
		return nil, err
	}
	stats.Segmentation = time.Since(t)

	t = time.Now()
	realigned, err := transcript.Realign(processed, asm.Units)
	if err != nil {
		observe.Logger(ctx).Error("pipeline: realignment failed", "err", err)
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	stats.Realignment = time.Since(t)
	stats.SegmentsOut = len(realigned)
	stats.Total = time.Since(start)

	span.SetAttributes(
		attribute.Int("paragraphs", len(asm.Paragraphs)),
		attribute.Int("units", len(asm.Units)),
	)
	observe.Logger(ctx).Info("pipeline: run complete",
		"segments_in", stats.SegmentsIn,
		"segments_out", stats.SegmentsOut,
		"words", stats.Words,
		"paragraphs", len(asm.Paragraphs),
		"units", len(asm.Units),
		"duration", stats.Total,
	)

	return &Result{
		Units:      asm.Units,
		Segments:   realigned,
		Paragraphs: len(asm.Paragraphs),
		Stats:      stats,
	}, nil
}

func (p *Pipeline) record(ctx context.Context, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	p.metrics.RecordPipelineRun(ctx, status)
}
