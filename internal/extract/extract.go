// Package extract runs the schema-constrained calls that turn a master
// summary into parties, locations and timeline payloads.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/docbreak/internal/assembler"
	"github.com/ajitpratap0/docbreak/internal/generation"
	"github.com/ajitpratap0/docbreak/internal/prompts"
)

// Output is one fence-stripped payload with its token usage.
type Output struct {
	Payload      string
	InputTokens  int64
	OutputTokens int64
}

// Extractor issues the extraction calls. Each method is one generation call;
// the caller decides ordering and persistence.
type Extractor struct {
	gen    generation.Client
	logger *slog.Logger
}

// New creates an Extractor over gen.
func New(gen generation.Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gen: gen, logger: logger}
}

// Parties extracts people and organizations from summary.
func (e *Extractor) Parties(ctx context.Context, summary string) (*Output, error) {
	return e.call(ctx, assembler.PayloadParties, generation.Request{
		System: prompts.PartiesSystem,
		Prompt: summary,
		Schema: prompts.PartiesSchema(),
	})
}

// Locations extracts geographic places from summary.
func (e *Extractor) Locations(ctx context.Context, summary string) (*Output, error) {
	return e.call(ctx, assembler.PayloadLocations, generation.Request{
		System: prompts.LocationsSystem,
		Prompt: summary,
		Schema: prompts.LocationsSchema(),
	})
}

// Timeline extracts dated events from summary, resolving relative dates
// against sourceDate.
func (e *Extractor) Timeline(ctx context.Context, summary string, sourceDate time.Time) (*Output, error) {
	return e.call(ctx, assembler.PayloadTimeline, generation.Request{
		System: prompts.TimelineSystem,
		Prompt: prompts.WithSourceDate(summary, sourceDate),
		Schema: prompts.TimelineSchema(),
	})
}

// RefineDates resubmits a generated timeline so imprecise dates can be
// tightened. The output has the same shape as Timeline's.
func (e *Extractor) RefineDates(ctx context.Context, timeline string, sourceDate time.Time) (*Output, error) {
	return e.call(ctx, "date refinement", generation.Request{
		System: prompts.DateRefinementSystem,
		Prompt: prompts.WithSourceDate(timeline, sourceDate),
		Schema: prompts.TimelineSchema(),
	})
}

func (e *Extractor) call(ctx context.Context, name string, req generation.Request) (*Output, error) {
	resp, err := e.gen.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", name, err)
	}
	e.logger.Debug("extract: call done", "payload", name,
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)
	return &Output{
		Payload:      assembler.StripFences(resp.Text),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}
