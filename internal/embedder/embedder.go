// Package embedder turns event text into vectors for similarity matching.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ajitpratap0/docbreak/internal/config"
)

const defaultHTTPTimeout = 30 * time.Second

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("empty embedding")

// Embedder generates a vector embedding for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension is the configured vector length. Providers that return a
	// different length are reported as errors.
	Dimension() int
}

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension, logger), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding provider openai requires an API key")
		}
		if cfg.BaseURL != "" {
			return NewOpenAIEmbedderWithURL(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension, logger), nil
		}
		return NewOpenAIEmbedder(cfg.APIKey, cfg.Model, cfg.Dimension, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// postJSON sends body as JSON and returns the raw response body. A non-200
// status is returned as an error carrying the body for diagnostics.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func checkDimension(vec []float32, want int) error {
	if len(vec) == 0 {
		return ErrEmptyEmbedding
	}
	if want > 0 && len(vec) != want {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), want)
	}
	return nil
}
