package app

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/edualign/internal/config"
	"github.com/MrWong99/edualign/internal/discourse"
	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/oracle"
	"github.com/MrWong99/edualign/internal/oracle/llmoracle"
	"github.com/MrWong99/edualign/internal/pipeline"
	"github.com/MrWong99/edualign/pkg/provider/llm"
	"github.com/MrWong99/edualign/pkg/types"
)

// Runner runs jobs on the current pipeline. The pipeline can be replaced at
// any time; runs already in progress keep the one they started with.
type Runner struct {
	p atomic.Pointer[pipeline.Pipeline]
}

// NewRunner returns a [Runner] serving p.
func NewRunner(p *pipeline.Pipeline) *Runner {
	r := &Runner{}
	r.p.Store(p)
	return r
}

// Run executes one pipeline run on the current pipeline.
func (r *Runner) Run(ctx context.Context, segments []types.Segment) (*pipeline.Result, error) {
	return r.p.Load().Run(ctx, segments)
}

// Swap installs p for subsequent runs.
func (r *Runner) Swap(p *pipeline.Pipeline) {
	r.p.Store(p)
}

// Current returns the pipeline new runs will use.
func (r *Runner) Current() *pipeline.Pipeline {
	return r.p.Load()
}

// NewOracle builds the LLM-backed oracle for pc: per-call timeout and
// paragraph sizing from pc, instrumented with m, behind the configured rate
// limit. name labels the provider in metrics.
func NewOracle(p llm.Provider, name string, pc config.PipelineConfig, m *observe.Metrics) oracle.Oracle {
	var o oracle.Oracle = llmoracle.New(p,
		llmoracle.WithTimeout(pc.OracleTimeout),
		llmoracle.WithTargetParagraphChars(pc.TargetParagraphChars),
	)
	o = oracle.WithMetrics(o, m, name)
	return oracle.WithRateLimit(o, pc.OracleRateLimitPerMin)
}

// NewPipeline builds a pipeline over o tuned by pc.
func NewPipeline(o oracle.Oracle, pc config.PipelineConfig, m *observe.Metrics) *pipeline.Pipeline {
	return pipeline.New(o,
		pipeline.WithSpacingThreshold(pc.SpacingThreshold()),
		pipeline.WithDiscourseOptions(
			discourse.WithParagraphAttempts(pc.ParagraphAttempts),
			discourse.WithUnitAttempts(pc.UnitAttempts),
			discourse.WithMaxConcurrency(pc.MaxConcurrentParagraphs),
			discourse.WithRetryBackoff(pc.RetryBackoff),
		),
		pipeline.WithMetrics(m),
	)
}
