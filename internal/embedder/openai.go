package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const (
	openAIEmbedURL     = "https://api.openai.com/v1/embeddings"
	openAIDefaultModel = "text-embedding-3-small"
	openAIDefaultDim   = 768
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint, requesting vectors
// truncated to the configured dimension.
type OpenAIEmbedder struct {
	apiKey      string
	model       string
	dimensions  int
	endpointURL string
	client      *http.Client
	logger      *slog.Logger
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIEmbedder creates an embedder against the public endpoint.
func NewOpenAIEmbedder(apiKey, model string, dimensions int, logger *slog.Logger) *OpenAIEmbedder {
	return NewOpenAIEmbedderWithURL(openAIEmbedURL, apiKey, model, dimensions, logger)
}

// NewOpenAIEmbedderWithURL creates an embedder against endpointURL, which is
// how tests and OpenAI-compatible gateways are reached.
func NewOpenAIEmbedderWithURL(endpointURL, apiKey, model string, dimensions int, logger *slog.Logger) *OpenAIEmbedder {
	if model == "" {
		model = openAIDefaultModel
	}
	if dimensions <= 0 {
		dimensions = openAIDefaultDim
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIEmbedder{
		apiKey:      apiKey,
		model:       model,
		dimensions:  dimensions,
		endpointURL: endpointURL,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:      logger,
	}
}

// Embed returns the vector for text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	header := http.Header{"Authorization": {"Bearer " + o.apiKey}}
	raw, status, err := postJSON(ctx, o.client, o.endpointURL, header, openAIRequest{
		Model:      o.model,
		Input:      []string{text},
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if status != http.StatusOK {
		var apiErr openAIErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("openai embedder: API error %d: %s", status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("openai embedder: API returned %d: %s", status, string(raw))
	}

	var result openAIResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("openai embedder: decoding response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("openai embedder: %w", ErrEmptyEmbedding)
	}

	vec := result.Data[0].Embedding
	if err := checkDimension(vec, o.dimensions); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	o.logger.Debug("embedded text", "provider", "openai", "model", o.model, "dimension", len(vec))
	return vec, nil
}

// Dimension returns the configured vector length.
func (o *OpenAIEmbedder) Dimension() int { return o.dimensions }
