package discourse

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/oracle"
)

// Assembler turns an article into globally indexed discourse units.
//
// Paragraphs are split into units concurrently, bounded by
// [WithMaxConcurrency]. Each paragraph task writes only its own slot of a
// pre-sized result slice; indices are assigned afterwards in a single
// sequential pass, so the output does not depend on scheduling.
type Assembler struct {
	paragraphs  *ParagraphSplitter
	units       *UnitSplitter
	concurrency int
	metrics     *observe.Metrics
}

// NewAssembler returns an [Assembler] that segments through o.
func NewAssembler(o oracle.Oracle, opts ...Option) *Assembler {
	s := newSettings(opts)
	return &Assembler{
		paragraphs:  NewParagraphSplitter(o, opts...),
		units:       NewUnitSplitter(o, opts...),
		concurrency: s.concurrency,
		metrics:     s.metrics,
	}
}

// Assemble splits article into paragraphs and units. On any failure no
// partial result is returned.
func (a *Assembler) Assemble(ctx context.Context, article string) (*Assembly, error) {
	if article == "" {
		return nil, ErrEmptyInput
	}

	paragraphs, err := a.paragraphs.Split(ctx, article)
	if err != nil {
		return nil, err
	}

	results := make([][]Unit, len(paragraphs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range paragraphs {
		g.Go(func() error {
			units, err := a.units.Split(gctx, p)
			if err != nil {
				return fmt.Errorf("discourse: paragraph %d: %w", i, err)
			}
			results[i] = units
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	units := make([]Unit, 0, total)
	for _, r := range results {
		for _, u := range r {
			u.Index = len(units)
			units = append(units, u)
			if a.metrics != nil {
				a.metrics.RecordUnit(ctx, string(u.Tag))
			}
		}
	}

	observe.Logger(ctx).Debug("discourse: article assembled",
		"paragraphs", len(paragraphs),
		"units", len(units),
	)
	return &Assembly{Paragraphs: paragraphs, Units: units}, nil
}
