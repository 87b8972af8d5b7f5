// Package summarize reduces an ordered list of chunks to one master summary.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/docbreak/internal/generation"
	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/prompts"
	"github.com/ajitpratap0/docbreak/pkg/tokenizer"
)

// ErrNoChunks is returned when there is nothing to summarize.
var ErrNoChunks = errors.New("no chunks to summarize")

// SaveFunc persists the breakdown after every generation call.
type SaveFunc func(ctx context.Context, b *models.Breakdown) error

// Strategy produces the master summary of chunks, recording intermediate
// summaries and token usage on b and saving after every call. Work already
// recorded on b by an earlier, interrupted run is reused.
type Strategy interface {
	Name() models.Strategy
	Summarize(ctx context.Context, chunks []string, b *models.Breakdown, save SaveFunc) (string, error)
}

// New returns the strategy for name.
func New(name models.Strategy, gen generation.Client, concurrency int, logger *slog.Logger) (Strategy, error) {
	switch name {
	case models.StrategyQuick:
		return NewQuick(gen, concurrency, logger), nil
	case models.StrategyGrowingSummary:
		return NewGrowing(gen, logger), nil
	default:
		return nil, fmt.Errorf("unknown summarization strategy %q", name)
	}
}

// Quick summarizes every chunk independently, in parallel up to a
// concurrency limit, then synthesizes one master summary from the chunk
// summaries in document order.
type Quick struct {
	gen         generation.Client
	concurrency int
	logger      *slog.Logger
}

// NewQuick creates the quick strategy.
func NewQuick(gen generation.Client, concurrency int, logger *slog.Logger) *Quick {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Quick{gen: gen, concurrency: concurrency, logger: logger}
}

// Name returns models.StrategyQuick.
func (q *Quick) Name() models.Strategy { return models.StrategyQuick }

// Summarize runs one call per pending chunk and one synthesis call.
func (q *Quick) Summarize(ctx context.Context, chunks []string, b *models.Breakdown, save SaveFunc) (string, error) {
	if len(chunks) == 0 {
		return "", ErrNoChunks
	}
	if len(b.ChunkSummaries) != len(chunks) {
		b.ChunkSummaries = make([]string, len(chunks))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)

	for i, chunk := range chunks {
		if b.ChunkSummaries[i] != "" {
			continue
		}
		g.Go(func() error {
			resp, err := q.gen.Generate(gctx, generation.Request{
				System: prompts.ChunkSummarySystem,
				Prompt: prompts.ChunkInput(chunk),
			})
			if err != nil {
				return fmt.Errorf("summarizing chunk %d: %w", i+1, err)
			}
			q.logger.Debug("summarize: chunk done", "chunk", i+1, "of", len(chunks),
				"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)

			mu.Lock()
			defer mu.Unlock()
			b.ChunkSummaries[i] = resp.Text
			b.AddTokens(resp.InputTokens, resp.OutputTokens)
			b.Touch()
			if err := save(gctx, b); err != nil {
				return fmt.Errorf("saving chunk %d summary: %w", i+1, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	input := prompts.MasterInput(b.ChunkSummaries)
	q.logger.Debug("summarize: synthesizing master summary",
		"chunk_summaries", len(b.ChunkSummaries), "estimated_tokens", tokenizer.EstimateTokens(input))

	resp, err := q.gen.Generate(ctx, generation.Request{
		System: prompts.MasterSummarySystem,
		Prompt: input,
	})
	if err != nil {
		return "", fmt.Errorf("synthesizing master summary: %w", err)
	}
	b.Summary = resp.Text
	b.AddTokens(resp.InputTokens, resp.OutputTokens)
	b.Touch()
	if err := save(ctx, b); err != nil {
		return "", fmt.Errorf("saving master summary: %w", err)
	}
	return resp.Text, nil
}

// Growing folds chunks one at a time into a running summary. Each call sees
// the current chunk and the running summary; its output replaces the
// running summary. Calls are strictly sequential.
type Growing struct {
	gen    generation.Client
	logger *slog.Logger
}

// NewGrowing creates the growing-summary strategy.
func NewGrowing(gen generation.Client, logger *slog.Logger) *Growing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Growing{gen: gen, logger: logger}
}

// Name returns models.StrategyGrowingSummary.
func (g *Growing) Name() models.Strategy { return models.StrategyGrowingSummary }

// Summarize runs one call per chunk not yet folded into b.
func (g *Growing) Summarize(ctx context.Context, chunks []string, b *models.Breakdown, save SaveFunc) (string, error) {
	if len(chunks) == 0 {
		return "", ErrNoChunks
	}
	if len(b.ChunkSummaries) > len(chunks) {
		b.ChunkSummaries = nil
	}

	running := ""
	if n := len(b.ChunkSummaries); n > 0 {
		running = b.ChunkSummaries[n-1]
	}

	for i := len(b.ChunkSummaries); i < len(chunks); i++ {
		resp, err := g.gen.Generate(ctx, generation.Request{
			System: prompts.GrowingSummarySystem,
			Prompt: prompts.GrowingInput(chunks[i], running),
		})
		if err != nil {
			return "", fmt.Errorf("folding chunk %d: %w", i+1, err)
		}
		running = resp.Text
		g.logger.Debug("summarize: chunk folded", "chunk", i+1, "of", len(chunks),
			"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)

		b.ChunkSummaries = append(b.ChunkSummaries, running)
		b.AddTokens(resp.InputTokens, resp.OutputTokens)
		b.Touch()
		if err := save(ctx, b); err != nil {
			return "", fmt.Errorf("saving running summary %d: %w", i+1, err)
		}
	}

	b.Summary = running
	b.Touch()
	if err := save(ctx, b); err != nil {
		return "", fmt.Errorf("saving master summary: %w", err)
	}
	return running, nil
}
