// Package mock provides a scripted test double for the oracle.Oracle
// interface.
//
// Replies are keyed by the exact input text so that concurrent callers (one
// goroutine per paragraph) receive deterministic answers regardless of
// scheduling. Each key holds a queue of replies consumed one per call; the
// last reply repeats once the queue is down to one entry. Inputs without a
// script get an identity answer: the whole article as one paragraph, or the
// whole paragraph as one CL unit.
//
// Example:
//
//	o := mock.New()
//	o.ScriptUnits("Hello world. Bye.",
//	    mock.UnitReply{Units: []oracle.Unit{{Content: "Hello world.", Tag: "CL"}, {Content: "Bye.", Tag: "IM"}}},
//	)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/edualign/internal/oracle"
)

// ParagraphReply is one scripted answer to SplitParagraphs.
type ParagraphReply struct {
	Paragraphs []string
	Err        error
}

// UnitReply is one scripted answer to SplitUnits.
type UnitReply struct {
	Units []oracle.Unit
	Err   error
}

// ParagraphCall records a single invocation of SplitParagraphs.
type ParagraphCall struct {
	Article string
	Effort  oracle.Effort
}

// UnitCall records a single invocation of SplitUnits.
type UnitCall struct {
	Paragraph string
	Effort    oracle.Effort
}

// Oracle is a mock implementation of oracle.Oracle. It is safe for
// concurrent use.
type Oracle struct {
	mu         sync.Mutex
	paragraphs map[string][]ParagraphReply
	units      map[string][]UnitReply

	// DefaultParagraphs, when set, answers SplitParagraphs for unscripted
	// articles.
	DefaultParagraphs func(article string) []string

	// DefaultUnits, when set, answers SplitUnits for unscripted paragraphs.
	DefaultUnits func(paragraph string) []oracle.Unit

	paragraphCalls []ParagraphCall
	unitCalls      []UnitCall
}

var _ oracle.Oracle = (*Oracle)(nil)

// New returns an empty [Oracle].
func New() *Oracle {
	return &Oracle{
		paragraphs: make(map[string][]ParagraphReply),
		units:      make(map[string][]UnitReply),
	}
}

// ScriptParagraphs queues replies for SplitParagraphs(article).
func (o *Oracle) ScriptParagraphs(article string, replies ...ParagraphReply) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paragraphs[article] = append(o.paragraphs[article], replies...)
}

// ScriptUnits queues replies for SplitUnits(paragraph).
func (o *Oracle) ScriptUnits(paragraph string, replies ...UnitReply) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.units[paragraph] = append(o.units[paragraph], replies...)
}

// SplitParagraphs implements oracle.Oracle.
func (o *Oracle) SplitParagraphs(ctx context.Context, article string, effort oracle.Effort) ([]string, error) {
	o.mu.Lock()
	o.paragraphCalls = append(o.paragraphCalls, ParagraphCall{Article: article, Effort: effort})
	queue := o.paragraphs[article]
	var reply *ParagraphReply
	if len(queue) > 0 {
		r := queue[0]
		reply = &r
		if len(queue) > 1 {
			o.paragraphs[article] = queue[1:]
		}
	}
	def := o.DefaultParagraphs
	o.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply != nil {
		return reply.Paragraphs, reply.Err
	}
	if def != nil {
		return def(article), nil
	}
	return []string{article}, nil
}

// SplitUnits implements oracle.Oracle.
func (o *Oracle) SplitUnits(ctx context.Context, paragraph string, effort oracle.Effort) ([]oracle.Unit, error) {
	o.mu.Lock()
	o.unitCalls = append(o.unitCalls, UnitCall{Paragraph: paragraph, Effort: effort})
	queue := o.units[paragraph]
	var reply *UnitReply
	if len(queue) > 0 {
		r := queue[0]
		reply = &r
		if len(queue) > 1 {
			o.units[paragraph] = queue[1:]
		}
	}
	def := o.DefaultUnits
	o.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply != nil {
		return reply.Units, reply.Err
	}
	if def != nil {
		return def(paragraph), nil
	}
	return []oracle.Unit{{Content: paragraph, Tag: "CL"}}, nil
}

// ParagraphCalls returns a snapshot of all SplitParagraphs invocations.
func (o *Oracle) ParagraphCalls() []ParagraphCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ParagraphCall, len(o.paragraphCalls))
	copy(out, o.paragraphCalls)
	return out
}

// UnitCalls returns a snapshot of all SplitUnits invocations.
func (o *Oracle) UnitCalls() []UnitCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]UnitCall, len(o.unitCalls))
	copy(out, o.unitCalls)
	return out
}

// UnitCallsFor returns the SplitUnits invocations for paragraph.
func (o *Oracle) UnitCallsFor(paragraph string) []UnitCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []UnitCall
	for _, c := range o.unitCalls {
		if c.Paragraph == paragraph {
			out = append(out, c)
		}
	}
	return out
}
