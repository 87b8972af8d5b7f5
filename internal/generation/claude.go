package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultMaxTokens caps the response length of a single call.
const DefaultMaxTokens = 4096

// ClaudeClient implements Client using the Anthropic Messages API.
// Schema-constrained calls force a single tool whose input schema is the
// requested shape, and the tool input is returned as the response text.
type ClaudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewClaudeClient creates a Claude-backed generation client.
func NewClaudeClient(apiKey, model string, maxTokens int64, logger *slog.Logger) *ClaudeClient {
	return NewClaudeClientWithOptions(model, maxTokens, logger, option.WithAPIKey(apiKey))
}

// NewClaudeClientWithOptions creates a client with explicit SDK request
// options, e.g. option.WithBaseURL for a local test server. SDK-level
// retries are always disabled; Retrying owns the retry policy.
func NewClaudeClientWithOptions(model string, maxTokens int64, logger *slog.Logger, opts ...option.RequestOption) *ClaudeClient {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, option.WithMaxRetries(0))
	c := anthropic.NewClient(opts...)
	return &ClaudeClient{
		client:    &c,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Generate issues one Messages call.
func (c *ClaudeClient) Generate(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Schema != nil {
		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        req.Schema.Name,
				Description: anthropic.String(req.Schema.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: req.Schema.Properties,
					Required:   req.Schema.Required,
				},
			},
		}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Schema.Name},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}

	var text string
	for i := range resp.Content {
		block := resp.Content[i]
		if req.Schema != nil && block.Type == "tool_use" && block.Name == req.Schema.Name {
			text = string(block.Input)
			break
		}
		if block.Type == "text" && text == "" {
			text = strings.TrimSpace(block.Text)
		}
	}
	if text == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("claude generation", "model", c.model, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)

	return &Response{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
