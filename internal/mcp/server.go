// Package mcp implements the Model Context Protocol server for docbreak.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/party"
	"github.com/ajitpratap0/docbreak/internal/pipeline"
	"github.com/ajitpratap0/docbreak/internal/store"
	"github.com/ajitpratap0/docbreak/pkg/tokenizer"
)

// defaultTimelineBudget is the default token budget for the rendered timeline.
const defaultTimelineBudget = 4000

// Sources creates sources.
type Sources interface {
	Create(ctx context.Context, rawURL string) (*models.Source, error)
}

// Breakdowns runs and reads breakdowns.
type Breakdowns interface {
	Run(ctx context.Context, sourceID string, opts pipeline.RunOptions) (*models.Breakdown, error)
	Get(ctx context.Context, id string) (*models.Breakdown, error)
}

// Corpus reads the resolved parties and timeline.
type Corpus interface {
	ListParties(ctx context.Context) ([]models.Party, error)
	ListTimeline(ctx context.Context) ([]models.Event, error)
}

// Parties manages parties and their relationships.
type Parties interface {
	Create(ctx context.Context, p models.Party) (*models.Party, error)
	Get(ctx context.Context, id string) (*party.Detail, error)
	Delete(ctx context.Context, id string) error
	Relate(ctx context.Context, from, to string, typ models.RelationshipType, status models.RelationshipStatus) (*models.PartyRelationship, error)
	SetStatus(ctx context.Context, id string, status models.RelationshipStatus) (*models.PartyRelationship, error)
}

// Server wraps an MCPServer with docbreak dependencies.
type Server struct {
	mcp        *mcpserver.MCPServer
	sources    Sources
	breakdowns Breakdowns
	corpus     Corpus
	parties    Parties
	logger     *slog.Logger
}

// NewServer creates a new MCP server. If a dependency is nil, the tools
// that need it return an error result instead of panicking.
func NewServer(sources Sources, breakdowns Breakdowns, corpus Corpus, parties Parties, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sources:    sources,
		breakdowns: breakdowns,
		corpus:     corpus,
		parties:    parties,
		logger:     logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"docbreak",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildCreateSourceTool(), s.handleCreateSource)
	mcpSrv.AddTool(buildBreakdownSourceTool(), s.handleBreakdownSource)
	mcpSrv.AddTool(buildGetBreakdownTool(), s.handleGetBreakdown)
	mcpSrv.AddTool(buildTimelineTool(), s.handleTimeline)
	mcpSrv.AddTool(buildPartiesTool(), s.handleParties)
	mcpSrv.AddTool(buildCreatePartyTool(), s.handleCreateParty)
	mcpSrv.AddTool(buildDeletePartyTool(), s.handleDeleteParty)
	mcpSrv.AddTool(buildRelatePartiesTool(), s.handleRelateParties)
	mcpSrv.AddTool(buildSetRelationshipStatusTool(), s.handleSetRelationshipStatus)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleCreateSource is the exported handler for the "create_source" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleCreateSource(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCreateSource(ctx, req)
}

// HandleBreakdownSource is the exported handler for the "breakdown_source" tool.
func (s *Server) HandleBreakdownSource(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleBreakdownSource(ctx, req)
}

// HandleGetBreakdown is the exported handler for the "get_breakdown" tool.
func (s *Server) HandleGetBreakdown(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleGetBreakdown(ctx, req)
}

// HandleTimeline is the exported handler for the "timeline" tool.
func (s *Server) HandleTimeline(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleTimeline(ctx, req)
}

// HandleParties is the exported handler for the "parties" tool.
func (s *Server) HandleParties(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleParties(ctx, req)
}

// HandleCreateParty is the exported handler for the "create_party" tool.
func (s *Server) HandleCreateParty(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCreateParty(ctx, req)
}

// HandleDeleteParty is the exported handler for the "delete_party" tool.
func (s *Server) HandleDeleteParty(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleDeleteParty(ctx, req)
}

// HandleRelateParties is the exported handler for the "relate_parties" tool.
func (s *Server) HandleRelateParties(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRelateParties(ctx, req)
}

// HandleSetRelationshipStatus is the exported handler for the "set_relationship_status" tool.
func (s *Server) HandleSetRelationshipStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleSetRelationshipStatus(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// breakdownView is a breakdown without its chunk summaries and raw payloads.
type breakdownView struct {
	ID           string                  `json:"id"`
	SourceID     string                  `json:"source_id"`
	Strategy     models.Strategy         `json:"strategy"`
	Stage        models.Stage            `json:"stage"`
	FailedStage  models.Stage            `json:"failed_stage,omitempty"`
	Error        string                  `json:"error,omitempty"`
	ChunkCount   int                     `json:"chunk_count"`
	Summary      string                  `json:"summary,omitempty"`
	InputTokens  int64                   `json:"input_tokens"`
	OutputTokens int64                   `json:"output_tokens"`
	Result       *models.BreakdownResult `json:"result,omitempty"`
}

func viewOf(b *models.Breakdown) breakdownView {
	return breakdownView{
		ID:           b.ID,
		SourceID:     b.SourceID,
		Strategy:     b.Strategy,
		Stage:        b.Stage,
		FailedStage:  b.FailedStage,
		Error:        b.Error,
		ChunkCount:   b.ChunkCount,
		Summary:      b.Summary,
		InputTokens:  b.InputTokens,
		OutputTokens: b.OutputTokens,
		Result:       b.Result,
	}
}

// renderTimeline writes one line per event: its date span, name and
// description.
func renderTimeline(events []models.Event) string {
	var sb strings.Builder
	for i := range events {
		e := &events[i]
		fmt.Fprintf(&sb, "- %s: %s. %s\n", e.When(), e.Name, e.Description)
	}
	return sb.String()
}

// --- tool definitions ---

func buildCreateSourceTool() mcpgo.Tool {
	return mcpgo.NewTool("create_source",
		mcpgo.WithDescription("Fetch a document by URL and record it as a source. The source is recorded even when the fetch fails."),
		mcpgo.WithString("url",
			mcpgo.Required(),
			mcpgo.Description("Absolute http(s) URL of the document"),
		),
	)
}

func buildBreakdownSourceTool() mcpgo.Tool {
	return mcpgo.NewTool("breakdown_source",
		mcpgo.WithDescription("Break a source down into a summary, parties, locations and a dated timeline, and merge the results into the corpus."),
		mcpgo.WithString("source_id",
			mcpgo.Required(),
			mcpgo.Description("ID of the source to break down"),
		),
		mcpgo.WithString("strategy",
			mcpgo.Description("Summarization strategy: quick or growing-summary (default: configured strategy)"),
		),
		mcpgo.WithNumber("chunk_limit",
			mcpgo.Description("Process only the first N chunks (default: all)"),
		),
		mcpgo.WithBoolean("retry",
			mcpgo.Description("Retry transient generation failures with backoff"),
		),
	)
}

func buildGetBreakdownTool() mcpgo.Tool {
	return mcpgo.NewTool("get_breakdown",
		mcpgo.WithDescription("Get a breakdown's stage, summary and result by ID."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("Breakdown ID"),
		),
	)
}

func buildTimelineTool() mcpgo.Tool {
	return mcpgo.NewTool("timeline",
		mcpgo.WithDescription("Get the master timeline across all sources, ordered by start date."),
		mcpgo.WithNumber("budget",
			mcpgo.Description("Approximate token budget for the rendered timeline (default: 4000)"),
		),
	)
}

func buildPartiesTool() mcpgo.Tool {
	return mcpgo.NewTool("parties",
		mcpgo.WithDescription("List resolved parties, or get one party by ID with its relationships."),
		mcpgo.WithString("id",
			mcpgo.Description("Party ID; omit to list all parties"),
		),
	)
}

func buildCreatePartyTool() mcpgo.Tool {
	return mcpgo.NewTool("create_party",
		mcpgo.WithDescription("Add a party by hand. Fails if a party with the same name and type exists."),
		mcpgo.WithString("name",
			mcpgo.Required(),
			mcpgo.Description("Party name"),
		),
		mcpgo.WithString("type",
			mcpgo.Required(),
			mcpgo.Description("individual or organization"),
		),
		mcpgo.WithString("description",
			mcpgo.Description("Short description of the party"),
		),
		mcpgo.WithString("aliases",
			mcpgo.Description("Comma-separated alternative names"),
		),
	)
}

func buildDeletePartyTool() mcpgo.Tool {
	return mcpgo.NewTool("delete_party",
		mcpgo.WithDescription("Delete a party and all of its relationships."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("Party ID"),
		),
	)
}

func buildRelatePartiesTool() mcpgo.Tool {
	return mcpgo.NewTool("relate_parties",
		mcpgo.WithDescription("Record a relationship from one party to another."),
		mcpgo.WithString("from_party_id",
			mcpgo.Required(),
			mcpgo.Description("ID of the party the relationship starts at"),
		),
		mcpgo.WithString("to_party_id",
			mcpgo.Required(),
			mcpgo.Description("ID of the party the relationship points to"),
		),
		mcpgo.WithString("type",
			mcpgo.Required(),
			mcpgo.Description("employment, membership or association"),
		),
		mcpgo.WithString("status",
			mcpgo.Description("active or inactive (default: active)"),
		),
	)
}

func buildSetRelationshipStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("set_relationship_status",
		mcpgo.WithDescription("Activate or deactivate a relationship."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("Relationship ID"),
		),
		mcpgo.WithString("status",
			mcpgo.Required(),
			mcpgo.Description("active or inactive"),
		),
	)
}

// --- handlers ---

func (s *Server) handleCreateSource(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.sources == nil {
		return mcpgo.NewToolResultError("sources are unavailable"), nil
	}

	url := req.GetString("url", "")
	if strings.TrimSpace(url) == "" {
		return mcpgo.NewToolResultError("url is required and must not be empty"), nil
	}

	src, err := s.sources.Create(ctx, url)
	if err != nil {
		return mcpgo.NewToolResultErrorf("create source failed: %s", err.Error()), nil
	}

	s.logger.Info("mcp: created source", "id", src.ID, "http_code", src.HTTPCode)
	return toolResultJSON(map[string]any{
		"id":        src.ID,
		"url":       src.URL,
		"http_code": src.HTTPCode,
		"available": src.Available(),
	})
}

func (s *Server) handleBreakdownSource(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.breakdowns == nil {
		return mcpgo.NewToolResultError("pipeline is unavailable"), nil
	}

	sourceID := req.GetString("source_id", "")
	if strings.TrimSpace(sourceID) == "" {
		return mcpgo.NewToolResultError("source_id is required and must not be empty"), nil
	}

	opts := pipeline.RunOptions{ChunkLimit: req.GetInt("chunk_limit", 0)}
	if opts.ChunkLimit < 0 {
		return mcpgo.NewToolResultError("chunk_limit must be >= 0"), nil
	}
	if st := req.GetString("strategy", ""); st != "" {
		candidate := models.Strategy(st)
		if !candidate.IsValid() {
			return mcpgo.NewToolResultErrorf("invalid strategy %q: must be quick or growing-summary", st), nil
		}
		opts.Strategy = candidate
	}
	if _, ok := req.GetArguments()["retry"]; ok {
		retry := req.GetBool("retry", false)
		opts.Retry = &retry
	}

	b, err := s.breakdowns.Run(ctx, sourceID, opts)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			return mcpgo.NewToolResultErrorf("breakdown %s failed at stage %s: %s", stageErr.BreakdownID, stageErr.Stage, stageErr.Err.Error()), nil
		}
		return mcpgo.NewToolResultErrorf("breakdown failed: %s", err.Error()), nil
	}

	s.logger.Info("mcp: breakdown complete", "id", b.ID, "source_id", sourceID)
	return toolResultJSON(viewOf(b))
}

func (s *Server) handleGetBreakdown(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.breakdowns == nil {
		return mcpgo.NewToolResultError("pipeline is unavailable"), nil
	}

	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}

	b, err := s.breakdowns.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcpgo.NewToolResultErrorf("breakdown %s not found", id), nil
		}
		return mcpgo.NewToolResultErrorf("get breakdown failed: %s", err.Error()), nil
	}
	return toolResultJSON(viewOf(b))
}

func (s *Server) handleTimeline(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.corpus == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	budget := req.GetInt("budget", defaultTimelineBudget)
	if budget <= 0 {
		budget = defaultTimelineBudget
	}

	events, err := s.corpus.ListTimeline(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("list timeline failed: %s", err.Error()), nil
	}

	rendered := renderTimeline(events)
	return toolResultJSON(map[string]any{
		"timeline":    tokenizer.TruncateToTokenBudget(rendered, budget),
		"event_count": len(events),
		"truncated":   tokenizer.EstimateTokens(rendered) > budget,
	})
}

func (s *Server) handleParties(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.corpus == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	if id := req.GetString("id", ""); id != "" {
		if s.parties == nil {
			return mcpgo.NewToolResultError("parties are unavailable"), nil
		}
		d, err := s.parties.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return mcpgo.NewToolResultErrorf("party %s not found", id), nil
			}
			return mcpgo.NewToolResultErrorf("get party failed: %s", err.Error()), nil
		}
		return toolResultJSON(d)
	}

	parties, err := s.corpus.ListParties(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("list parties failed: %s", err.Error()), nil
	}
	if parties == nil {
		parties = []models.Party{}
	}
	return toolResultJSON(map[string]any{"parties": parties})
}

// partyError turns a party service error into a tool error result.
func partyError(op string, err error) *mcpgo.CallToolResult {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return mcpgo.NewToolResultErrorf("%s: not found: %s", op, err.Error())
	default:
		return mcpgo.NewToolResultErrorf("%s failed: %s", op, err.Error())
	}
}

func (s *Server) handleCreateParty(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.parties == nil {
		return mcpgo.NewToolResultError("parties are unavailable"), nil
	}

	p := models.Party{
		Name:                      req.GetString("name", ""),
		Type:                      models.PartyType(strings.ToLower(strings.TrimSpace(req.GetString("type", "")))),
		DisambiguationDescription: req.GetString("description", ""),
	}
	for _, a := range strings.Split(req.GetString("aliases", ""), ",") {
		if a = strings.TrimSpace(a); a != "" {
			p.Aliases = append(p.Aliases, a)
		}
	}

	created, err := s.parties.Create(ctx, p)
	if err != nil {
		return partyError("create party", err), nil
	}
	return toolResultJSON(created)
}

func (s *Server) handleDeleteParty(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.parties == nil {
		return mcpgo.NewToolResultError("parties are unavailable"), nil
	}

	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}
	if err := s.parties.Delete(ctx, id); err != nil {
		return partyError("delete party", err), nil
	}
	return toolResultJSON(map[string]any{"deleted": id})
}

func (s *Server) handleRelateParties(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.parties == nil {
		return mcpgo.NewToolResultError("parties are unavailable"), nil
	}

	typ, err := models.ParseRelationshipType(req.GetString("type", ""))
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	status, err := models.ParseRelationshipStatus(req.GetString("status", ""))
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	r, err := s.parties.Relate(ctx, req.GetString("from_party_id", ""), req.GetString("to_party_id", ""), typ, status)
	if err != nil {
		return partyError("relate parties", err), nil
	}
	return toolResultJSON(r)
}

func (s *Server) handleSetRelationshipStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.parties == nil {
		return mcpgo.NewToolResultError("parties are unavailable"), nil
	}

	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}
	raw := req.GetString("status", "")
	if strings.TrimSpace(raw) == "" {
		return mcpgo.NewToolResultError("status is required: active or inactive"), nil
	}
	status, err := models.ParseRelationshipStatus(raw)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	r, err := s.parties.SetStatus(ctx, id, status)
	if err != nil {
		return partyError("set relationship status", err), nil
	}
	return toolResultJSON(r)
}
