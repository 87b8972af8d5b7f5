package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/docbreak/internal/config"
	"github.com/ajitpratap0/docbreak/internal/embedder"
	"github.com/ajitpratap0/docbreak/internal/generation"
	"github.com/ajitpratap0/docbreak/internal/graph"
	"github.com/ajitpratap0/docbreak/internal/party"
	"github.com/ajitpratap0/docbreak/internal/pipeline"
	"github.com/ajitpratap0/docbreak/internal/source"
	"github.com/ajitpratap0/docbreak/internal/store"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "docbreak",
		Short: "docbreak breaks documents down into summaries, parties and dated timelines",
		Long: "docbreak fetches documents, summarizes them with a language model, extracts parties, locations " +
			"and a dated timeline, and merges the results into a cross-document corpus.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		sourceCmd(),
		extractCmd(),
		breakdownCmd(),
		timelineCmd(),
		partiesCmd(),
		recoverCmd(),
		healthCmd(),
		serveCmd(),
		mcpCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newStore opens the sqlite record store and, when enabled, routes event
// similarity through the Qdrant index.
func newStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	base, err := store.NewSQLiteStore(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Qdrant.Enabled {
		return base, nil
	}

	index, err := store.NewQdrantEventIndex(
		cfg.Qdrant.Host,
		cfg.Qdrant.GRPCPort,
		cfg.Qdrant.Collection,
		uint64(cfg.Embedding.Dimension),
		cfg.Qdrant.UseTLS,
		logger,
	)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	if err := index.EnsureCollection(ctx); err != nil {
		_ = index.Close()
		_ = base.Close()
		return nil, err
	}
	return store.WithEventIndex(base, index), nil
}

func newSourceService(st store.SourceStore, logger *slog.Logger) *source.Service {
	fetcher := source.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, logger)
	return source.NewService(st, fetcher, nil, logger)
}

func newGraphSink(ctx context.Context, logger *slog.Logger) (graph.Sink, error) {
	if !cfg.Neo4j.Enabled {
		return graph.NopSink{}, nil
	}
	return graph.NewNeo4jSink(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
}

// app holds the wired components shared by most commands.
type app struct {
	store    store.Store
	sources  *source.Service
	parties  *party.Service
	pipeline *pipeline.Pipeline
	graph    graph.Sink
	logger   *slog.Logger
}

// openApp wires the store and source service, plus the pipeline and its
// generation, embedding and graph backends when withPipeline is set.
func openApp(ctx context.Context, logger *slog.Logger, withPipeline bool) (*app, error) {
	st, err := newStore(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{
		store:   st,
		sources: newSourceService(st, logger),
		parties: party.NewService(st, logger),
		graph:   graph.NopSink{},
		logger:  logger,
	}
	if !withPipeline {
		return a, nil
	}

	if cfg.Claude.APIKey == "" {
		a.Close(ctx)
		return nil, errors.New("no Claude API key configured; set ANTHROPIC_API_KEY")
	}
	emb, err := embedder.New(cfg.Embedding, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	sink, err := newGraphSink(ctx, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("connecting to graph: %w", err)
	}
	a.graph = sink

	a.pipeline = pipeline.New(pipeline.ConfigFrom(cfg.Pipeline), pipeline.Deps{
		Store:     st,
		Sources:   a.sources,
		Generator: generation.NewClaudeClient(cfg.Claude.APIKey, cfg.Claude.Model, cfg.Claude.MaxTokens, logger),
		Embedder:  emb,
		Graph:     sink,
		Logger:    logger,
	})
	return a, nil
}

// Close releases the graph driver and the store.
func (a *app) Close(ctx context.Context) {
	if err := a.graph.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("closing graph", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
