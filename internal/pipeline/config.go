package pipeline

import (
	"time"

	"github.com/ajitpratap0/docbreak/internal/config"
	"github.com/ajitpratap0/docbreak/internal/models"
)

// Config holds every tunable of a breakdown run.
type Config struct {
	Strategy            models.Strategy
	ChunkSize           int
	ChunkLimit          int // 0 = all chunks
	Concurrency         int
	Retry               bool
	MaxRetries          int // 0 = generation.DefaultMaxRetries
	BackoffBase         time.Duration
	RequestsPerSecond   float64 // 0 = unlimited
	SimilarityThreshold float64
	StageTimeout        time.Duration // 0 = none
}

// ConfigFrom maps the pipeline section of the application config.
func ConfigFrom(c config.PipelineConfig) Config {
	return Config{
		Strategy:            models.Strategy(c.Strategy),
		ChunkSize:           c.ChunkSize,
		ChunkLimit:          c.ChunkLimit,
		Concurrency:         c.Concurrency,
		Retry:               c.Retry,
		MaxRetries:          c.MaxRetries,
		BackoffBase:         c.BackoffBase,
		RequestsPerSecond:   c.RequestsPerSecond,
		SimilarityThreshold: c.SimilarityThreshold,
		StageTimeout:        c.StageTimeout,
	}
}

// RunOptions override Config for a single run. Zero values keep the
// configured behavior.
type RunOptions struct {
	Strategy   models.Strategy
	ChunkLimit int
	Retry      *bool
}
