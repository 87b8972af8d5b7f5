package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	ollamaDefaultURL   = "http://localhost:11434"
	ollamaDefaultModel = "nomic-embed-text"
	ollamaDefaultDim   = 768
)

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	logger    *slog.Logger
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an Ollama embedder. Empty arguments fall back to
// the local default server, nomic-embed-text and 768 dimensions.
func NewOllamaEmbedder(baseURL, model string, dimension int, logger *slog.Logger) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	if model == "" {
		model = ollamaDefaultModel
	}
	if dimension <= 0 {
		dimension = ollamaDefaultDim
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:    logger,
	}
}

// Embed returns the vector for text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	raw, status, err := postJSON(ctx, o.client, o.baseURL+"/api/embeddings", nil, ollamaRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("ollama embedder: API returned %d: %s", status, string(raw))
	}

	var result ollamaResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("ollama embedder: decoding response: %w", err)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	if err := checkDimension(vec, o.dimension); err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}

	o.logger.Debug("embedded text", "provider", "ollama", "model", o.model, "dimension", len(vec))
	return vec, nil
}

// Dimension returns the configured vector length.
func (o *OllamaEmbedder) Dimension() int { return o.dimension }
