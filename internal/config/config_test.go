package config

import (
	"strings"
	"testing"
	"time"
)

// validCfg returns a fully-valid Config for mutation testing.
func validCfg() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		Store: StoreConfig{Path: "/tmp/docbreak.db"},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			GRPCPort:   6334,
			Collection: "test_events",
		},
		Pipeline: PipelineConfig{
			Strategy:            "quick",
			ChunkSize:           DefaultChunkSize,
			MaxRetries:          DefaultMaxRetries,
			BackoffBase:         DefaultBackoffBase,
			SimilarityThreshold: DefaultSimilarityThreshold,
			Concurrency:         DefaultConcurrency,
		},
		Fetch: FetchConfig{Timeout: 10 * time.Second},
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	if err := validCfg().Validate(); err != nil {
		t.Fatalf("valid config should pass, got: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown strategy", func(c *Config) { c.Pipeline.Strategy = "slow" }, "pipeline.strategy"},
		{"zero chunk size", func(c *Config) { c.Pipeline.ChunkSize = 0 }, "chunk_size"},
		{"negative chunk limit", func(c *Config) { c.Pipeline.ChunkLimit = -1 }, "chunk_limit"},
		{"negative retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }, "max_retries"},
		{"threshold above one", func(c *Config) { c.Pipeline.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }, "concurrency"},
		{"unknown embedder", func(c *Config) { c.Embedding.Provider = "bert" }, "embedding.provider"},
		{"empty ollama url", func(c *Config) { c.Embedding.BaseURL = "" }, "base_url"},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, "dimension"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"qdrant without host", func(c *Config) { c.Qdrant.Enabled = true; c.Qdrant.Host = "" }, "qdrant.host"},
		{"neo4j without uri", func(c *Config) { c.Neo4j.Enabled = true }, "neo4j.uri"},
		{"zero fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validCfg()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_DisabledQdrantIgnoresHost(t *testing.T) {
	cfg := validCfg()
	cfg.Qdrant.Host = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled qdrant should not be validated, got: %v", err)
	}
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key-123456")
	t.Setenv("DOCBREAK_PIPELINE_STRATEGY", "growing-summary")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Claude.APIKey != "sk-ant-test-key-123456" {
		t.Fatalf("api key not bound from env: %q", cfg.Claude.APIKey)
	}
	if cfg.Pipeline.Strategy != "growing-summary" {
		t.Fatalf("strategy not read from env: %q", cfg.Pipeline.Strategy)
	}
	if cfg.Pipeline.ChunkSize != DefaultChunkSize {
		t.Fatalf("chunk size default = %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.BackoffBase != DefaultBackoffBase {
		t.Fatalf("backoff default = %s", cfg.Pipeline.BackoffBase)
	}
	if cfg.Pipeline.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Fatalf("threshold default = %v", cfg.Pipeline.SimilarityThreshold)
	}
}

func TestClaudeConfig_StringMasksKey(t *testing.T) {
	s := ClaudeConfig{APIKey: "sk-ant-abcdefghijkl", Model: "m"}.String()
	if strings.Contains(s, "abcdefghijkl") {
		t.Fatalf("api key leaked: %s", s)
	}
	if !strings.Contains(s, "sk-a****ijkl") {
		t.Fatalf("unexpected mask: %s", s)
	}
}
