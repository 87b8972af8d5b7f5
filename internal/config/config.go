package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultChunkSize is the default upper bound, in characters, of a document chunk.
	DefaultChunkSize = 8000

	// DefaultMaxRetries is the default number of retries after a failed generation call.
	DefaultMaxRetries = 3

	// DefaultBackoffBase is the delay before the first retry; it doubles on every retry.
	DefaultBackoffBase = 2 * time.Second

	// DefaultSimilarityThreshold is the cosine similarity at or above which two
	// events are considered the same event.
	DefaultSimilarityThreshold = 0.8

	// DefaultConcurrency bounds parallel per-chunk summary calls in the quick strategy.
	DefaultConcurrency = 4
)

// Config holds all configuration for docbreak.
type Config struct {
	Claude    ClaudeConfig    `mapstructure:"claude"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Store     StoreConfig     `mapstructure:"store"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	masked := maskAPIKey(c.APIKey)
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s, MaxTokens:%d}", masked, c.Model, c.MaxTokens)
}

// EmbeddingConfig selects and configures the embedding service.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"` // "ollama" or "openai"
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	Dimension int    `mapstructure:"dimension"`
}

// String returns a safe representation of EmbeddingConfig with the API key masked.
func (c EmbeddingConfig) String() string {
	return fmt.Sprintf("EmbeddingConfig{Provider:%s, BaseURL:%s, Model:%s, APIKey:%s, Dimension:%d}",
		c.Provider, c.BaseURL, c.Model, maskAPIKey(c.APIKey), c.Dimension)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// StoreConfig holds record store settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// QdrantConfig holds settings for the optional Qdrant event index.
type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	GRPCPort   int    `mapstructure:"grpc_port"`
	Collection string `mapstructure:"collection"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// Neo4jConfig holds settings for the optional source-mention graph.
type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// PipelineConfig holds every tunable of a breakdown run.
type PipelineConfig struct {
	Strategy            string        `mapstructure:"strategy"`
	ChunkSize           int           `mapstructure:"chunk_size"`
	ChunkLimit          int           `mapstructure:"chunk_limit"` // 0 = no limit
	Retry               bool          `mapstructure:"retry"`
	MaxRetries          int           `mapstructure:"max_retries"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	Concurrency         int           `mapstructure:"concurrency"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"` // 0 = unlimited
	StageTimeout        time.Duration `mapstructure:"stage_timeout"`       // 0 = none
	StallThreshold      time.Duration `mapstructure:"stall_threshold"`
}

// FetchConfig holds source retrieval settings.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")
	v.SetDefault("claude.max_tokens", 4096)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimension", 768)

	v.SetDefault("store.path", filepath.Join(homeDir(), ".docbreak", "docbreak.db"))

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.grpc_port", 6334)
	v.SetDefault("qdrant.collection", "docbreak_events")
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("pipeline.strategy", "quick")
	v.SetDefault("pipeline.chunk_size", DefaultChunkSize)
	v.SetDefault("pipeline.chunk_limit", 0)
	v.SetDefault("pipeline.retry", false)
	v.SetDefault("pipeline.max_retries", DefaultMaxRetries)
	v.SetDefault("pipeline.backoff_base", DefaultBackoffBase)
	v.SetDefault("pipeline.similarity_threshold", DefaultSimilarityThreshold)
	v.SetDefault("pipeline.concurrency", DefaultConcurrency)
	v.SetDefault("pipeline.requests_per_second", 0)
	v.SetDefault("pipeline.stage_timeout", 0)
	v.SetDefault("pipeline.stall_threshold", time.Hour)

	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".docbreak"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("DOCBREAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("embedding.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("neo4j.password", "DOCBREAK_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	_ = v.BindEnv("api.auth_token", "DOCBREAK_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	switch c.Pipeline.Strategy {
	case "quick", "growing-summary":
	default:
		return fmt.Errorf("pipeline.strategy must be quick or growing-summary, got %q", c.Pipeline.Strategy)
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be greater than 0")
	}
	if c.Pipeline.ChunkLimit < 0 {
		return fmt.Errorf("pipeline.chunk_limit must be >= 0")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	if c.Pipeline.BackoffBase < 0 {
		return fmt.Errorf("pipeline.backoff_base must be >= 0")
	}
	if c.Pipeline.SimilarityThreshold < 0 || c.Pipeline.SimilarityThreshold > 1 {
		return fmt.Errorf("pipeline.similarity_threshold must be between 0 and 1")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be greater than 0")
	}
	if c.Pipeline.RequestsPerSecond < 0 {
		return fmt.Errorf("pipeline.requests_per_second must be >= 0")
	}
	switch c.Embedding.Provider {
	case "ollama":
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("embedding.base_url must not be empty for the ollama provider")
		}
	case "openai":
	default:
		return fmt.Errorf("embedding.provider must be ollama or openai, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be greater than 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Qdrant.Enabled {
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant.host must not be empty")
		}
		if c.Qdrant.Collection == "" {
			return fmt.Errorf("qdrant.collection must not be empty")
		}
	}
	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j.uri must not be empty")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be greater than 0")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
