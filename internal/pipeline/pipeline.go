// Package pipeline runs a breakdown of one source through its stages:
// chunking, summarizing, parties, locations, timeline and dating. The
// breakdown is saved after every stage and every summarization call, so a
// failed or interrupted run can resume where it stopped.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/docbreak/internal/assembler"
	"github.com/ajitpratap0/docbreak/internal/chunker"
	"github.com/ajitpratap0/docbreak/internal/embedder"
	"github.com/ajitpratap0/docbreak/internal/extract"
	"github.com/ajitpratap0/docbreak/internal/generation"
	"github.com/ajitpratap0/docbreak/internal/graph"
	"github.com/ajitpratap0/docbreak/internal/metrics"
	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/resolver"
	"github.com/ajitpratap0/docbreak/internal/source"
	"github.com/ajitpratap0/docbreak/internal/store"
	"github.com/ajitpratap0/docbreak/internal/summarize"
	"github.com/ajitpratap0/docbreak/pkg/tokenizer"
)

// ErrNoChunks is returned when the source text yields no chunks.
var ErrNoChunks = errors.New("source text produced no chunks")

// StageError is a fatal failure of one stage. The breakdown has been saved
// in the failed stage with FailedStage set to Stage.
type StageError struct {
	BreakdownID string
	Stage       models.Stage
	Err         error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("breakdown %s failed at stage %s: %v", e.BreakdownID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store     store.Store
	Sources   *source.Service
	Generator generation.Client
	Embedder  embedder.Embedder
	Graph     graph.Sink
	Logger    *slog.Logger

	// Sleeper replaces the retry backoff sleep; nil uses a real timer.
	Sleeper generation.Sleeper
}

// Pipeline runs breakdowns.
type Pipeline struct {
	cfg      Config
	store    store.Store
	sources  *source.Service
	gen      generation.Client
	limiter  *rate.Limiter
	sleeper  generation.Sleeper
	resolver *resolver.Resolver
	graph    graph.Sink
	logger   *slog.Logger

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a Pipeline. Zero-valued tunables fall back to defaults.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Strategy == "" {
		cfg.Strategy = models.StrategyQuick
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultMaxChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = generation.DefaultMaxRetries
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := deps.Graph
	if sink == nil {
		sink = graph.NopSink{}
	}

	p := &Pipeline{
		cfg:     cfg,
		store:   deps.Store,
		sources: deps.Sources,
		gen:     deps.Generator,
		sleeper: deps.Sleeper,
		graph:   sink,
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if deps.Embedder != nil {
		p.resolver = resolver.New(deps.Store, deps.Store, deps.Embedder, cfg.SimilarityThreshold, logger)
	}
	return p
}

func (p *Pipeline) newID() string {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	return ulid.MustNew(ulid.Now(), p.entropy).String()
}

// run is the state of one execution of a breakdown.
type run struct {
	b          *models.Breakdown
	src        *models.Source
	text       string
	chunkLimit int
	gen        generation.Client
	extractor  *extract.Extractor
	chunks     []string
}

// Run creates a breakdown of sourceID and drives it to completion.
// On a fatal stage failure the returned breakdown is the saved failed
// record and the error is a *StageError.
func (p *Pipeline) Run(ctx context.Context, sourceID string, opts RunOptions) (*models.Breakdown, error) {
	src, text, err := p.loadSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	strategy := p.cfg.Strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}
	if !strategy.IsValid() {
		return nil, fmt.Errorf("unknown summarization strategy %q", strategy)
	}

	now := time.Now().UTC()
	b := &models.Breakdown{
		ID:        p.newID(),
		SourceID:  src.ID,
		Strategy:  strategy,
		Stage:     models.StageChunking,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.UpsertBreakdown(ctx, b); err != nil {
		return nil, fmt.Errorf("creating breakdown: %w", err)
	}
	metrics.Inc(metrics.BreakdownsStarted)
	p.logger.Info("breakdown started", "id", b.ID, "source_id", src.ID, "strategy", strategy)

	limit := p.cfg.ChunkLimit
	if opts.ChunkLimit > 0 {
		limit = opts.ChunkLimit
	}
	return p.execute(ctx, p.newRun(b, src, text, limit, opts.Retry))
}

// Resume continues a failed or interrupted breakdown from its saved stage,
// reusing every chunk summary and payload already recorded. A complete
// breakdown is returned unchanged.
func (p *Pipeline) Resume(ctx context.Context, breakdownID string, opts RunOptions) (*models.Breakdown, error) {
	b, err := p.store.GetBreakdown(ctx, breakdownID)
	if err != nil {
		return nil, err
	}
	if b.Stage == models.StageComplete {
		return b, nil
	}

	src, text, err := p.loadSource(ctx, b.SourceID)
	if err != nil {
		return nil, err
	}

	resumeAt := b.ResumeStage()
	p.logger.Info("breakdown resumed", "id", b.ID, "stage", resumeAt, "previous_error", b.Error)
	b.Stage = resumeAt
	b.FailedStage = ""
	b.Error = ""
	b.Touch()
	if err := p.store.UpsertBreakdown(ctx, b); err != nil {
		return nil, fmt.Errorf("saving resumed breakdown: %w", err)
	}

	limit := b.ChunkCount
	if limit == 0 {
		limit = p.cfg.ChunkLimit
		if opts.ChunkLimit > 0 {
			limit = opts.ChunkLimit
		}
	}
	return p.execute(ctx, p.newRun(b, src, text, limit, opts.Retry))
}

func (p *Pipeline) loadSource(ctx context.Context, sourceID string) (*models.Source, string, error) {
	src, err := p.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, "", fmt.Errorf("loading source: %w", err)
	}
	text, err := p.sources.Text(src)
	if err != nil {
		return nil, "", err
	}
	return src, text, nil
}

func (p *Pipeline) newRun(b *models.Breakdown, src *models.Source, text string, chunkLimit int, retry *bool) *run {
	enabled := p.cfg.Retry
	if retry != nil {
		enabled = *retry
	}
	opts := []generation.RetryOption{
		generation.WithRetry(enabled),
		generation.WithMaxRetries(p.cfg.MaxRetries),
		generation.WithLimiter(p.limiter),
		generation.WithSleeper(p.sleeper),
	}
	if p.cfg.BackoffBase > 0 {
		opts = append(opts, generation.WithBackoffBase(p.cfg.BackoffBase))
	}
	gen := generation.NewRetrying(p.gen, p.logger, opts...)
	return &run{
		b:          b,
		src:        src,
		text:       text,
		chunkLimit: chunkLimit,
		gen:        gen,
		extractor:  extract.New(gen, p.logger),
	}
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*models.Breakdown, error) {
	for !r.b.Stage.IsTerminal() {
		stage := r.b.Stage
		start := time.Now()

		if err := p.runStage(ctx, r, stage); err != nil {
			return p.fail(ctx, r.b, stage, err)
		}

		r.b.Stage = stage.Next()
		r.b.Touch()
		if err := p.save(ctx, r.b); err != nil {
			return p.fail(ctx, r.b, stage, err)
		}
		p.logger.Info("stage complete", "id", r.b.ID, "stage", stage, "next", r.b.Stage,
			"duration", time.Since(start).Round(time.Millisecond),
			"input_tokens", r.b.InputTokens, "output_tokens", r.b.OutputTokens)
	}

	metrics.Inc(metrics.BreakdownsCompleted)
	return r.b, nil
}

func (p *Pipeline) runStage(ctx context.Context, r *run, stage models.Stage) error {
	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}

	switch stage {
	case models.StageChunking:
		chunks, err := p.chunk(r)
		if err != nil {
			return err
		}
		r.b.ChunkCount = len(chunks)
		return nil

	case models.StageSummarizing:
		chunks, err := p.chunk(r)
		if err != nil {
			return err
		}
		strategy, err := summarize.New(r.b.Strategy, r.gen, p.cfg.Concurrency, p.logger)
		if err != nil {
			return err
		}
		_, err = strategy.Summarize(ctx, chunks, r.b, p.save)
		return err

	case models.StageParties:
		out, err := r.extractor.Parties(ctx, r.b.Summary)
		if err != nil {
			return err
		}
		r.b.PartiesPayload = out.Payload
		r.b.AddTokens(out.InputTokens, out.OutputTokens)
		return nil

	case models.StageLocations:
		out, err := r.extractor.Locations(ctx, r.b.Summary)
		if err != nil {
			return err
		}
		r.b.LocationsPayload = out.Payload
		r.b.AddTokens(out.InputTokens, out.OutputTokens)
		return nil

	case models.StageTimeline:
		out, err := r.extractor.Timeline(ctx, r.b.Summary, r.src.AccessedAt)
		if err != nil {
			return err
		}
		r.b.TimelinePayload = out.Payload
		r.b.AddTokens(out.InputTokens, out.OutputTokens)
		return nil

	case models.StageDating:
		return p.date(ctx, r)

	default:
		return fmt.Errorf("unexpected stage %q", stage)
	}
}

// chunk splits the source text, keeping the first chunkLimit chunks.
func (p *Pipeline) chunk(r *run) ([]string, error) {
	if r.chunks != nil {
		return r.chunks, nil
	}
	chunks := chunker.New(chunker.WithMaxChars(p.cfg.ChunkSize)).Chunk(r.text)
	total := len(chunks)
	if r.chunkLimit > 0 && total > r.chunkLimit {
		chunks = chunks[:r.chunkLimit]
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	p.logger.Info("chunked source", "id", r.b.ID, "chunks", len(chunks), "total_chunks", total,
		"estimated_tokens", tokenizer.EstimateTokens(strings.Join(chunks, "\n\n")))
	r.chunks = chunks
	return chunks, nil
}

// date refines the timeline, assembles the result and resolves it against
// the corpus. The result is set only when every step succeeded.
func (p *Pipeline) date(ctx context.Context, r *run) error {
	out, err := r.extractor.RefineDates(ctx, r.b.TimelinePayload, r.src.AccessedAt)
	if err != nil {
		return err
	}
	r.b.AddTokens(out.InputTokens, out.OutputTokens)

	result, err := assembler.New(assembler.WithSourceDate(r.src.AccessedAt), assembler.WithLogger(p.logger)).
		Assemble(r.b.PartiesPayload, r.b.LocationsPayload, out.Payload)
	if err != nil {
		return err
	}

	var (
		parties = result.Parties
		events  = result.Timeline
	)
	if p.resolver != nil {
		report, err := p.resolver.Resolve(ctx, r.src.ID, result)
		if err != nil {
			return fmt.Errorf("resolving entities: %w", err)
		}
		parties, events = report.Parties, report.Events
	}

	mentions := graph.Mentions(r.src.ID, parties, events, result.Locations)
	if err := p.graph.RecordMentions(ctx, *r.src, mentions); err != nil {
		p.logger.Warn("recording source mentions failed", "id", r.b.ID, "error", err)
	}

	r.b.TimelinePayload = out.Payload
	r.b.Result = result
	return nil
}

func (p *Pipeline) save(ctx context.Context, b *models.Breakdown) error {
	if err := p.store.UpsertBreakdown(ctx, b); err != nil {
		return fmt.Errorf("saving breakdown %s: %w", b.ID, err)
	}
	return nil
}

// fail records the failure and returns a *StageError. The record is saved
// even when ctx is already cancelled.
func (p *Pipeline) fail(ctx context.Context, b *models.Breakdown, stage models.Stage, cause error) (*models.Breakdown, error) {
	b.FailedStage = stage
	b.Stage = models.StageFailed
	b.Error = cause.Error()
	b.Touch()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.UpsertBreakdown(saveCtx, b); err != nil {
		p.logger.Error("saving failed breakdown", "id", b.ID, "error", err)
	}

	metrics.Inc(metrics.BreakdownsFailed)
	p.logger.Error("breakdown failed", "id", b.ID, "stage", stage, "error", cause)
	return b, &StageError{BreakdownID: b.ID, Stage: stage, Err: cause}
}

// Get returns a breakdown by ID.
func (p *Pipeline) Get(ctx context.Context, id string) (*models.Breakdown, error) {
	return p.store.GetBreakdown(ctx, id)
}

// List returns the breakdowns of a source, newest first.
func (p *Pipeline) List(ctx context.Context, sourceID string) ([]models.Breakdown, error) {
	return p.store.ListBreakdownsBySource(ctx, sourceID)
}
