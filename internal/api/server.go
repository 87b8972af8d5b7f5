package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/party"
	"github.com/ajitpratap0/docbreak/internal/pipeline"
	"github.com/ajitpratap0/docbreak/internal/source"
	"github.com/ajitpratap0/docbreak/internal/store"
)

// Sources creates and reads sources.
type Sources interface {
	Create(ctx context.Context, rawURL string) (*models.Source, error)
	Get(ctx context.Context, id string) (*models.Source, error)
}

// Breakdowns runs and reads breakdowns.
type Breakdowns interface {
	Run(ctx context.Context, sourceID string, opts pipeline.RunOptions) (*models.Breakdown, error)
	Get(ctx context.Context, id string) (*models.Breakdown, error)
	List(ctx context.Context, sourceID string) ([]models.Breakdown, error)
}

// Corpus reads the cross-document parties and timeline.
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

// Server is an HTTP API server that exposes sources, breakdowns and the
// resolved corpus.
type Server struct {
	sources    Sources
	breakdowns Breakdowns
	corpus     Corpus
	parties    Parties
	logger     *slog.Logger
	authToken  string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(sources Sources, breakdowns Breakdowns, corpus Corpus, parties Parties, logger *slog.Logger, authToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sources:    sources,
		breakdowns: breakdowns,
		corpus:     corpus,
		parties:    parties,
		logger:     logger,
		authToken:  authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/sources", s.auth(s.handleCreateSource))
	mux.HandleFunc("GET /v1/sources/{id}", s.auth(s.handleGetSource))
	mux.HandleFunc("POST /v1/sources/{id}/breakdowns", s.auth(s.handleRunBreakdown))
	mux.HandleFunc("GET /v1/sources/{id}/breakdowns", s.auth(s.handleListBreakdowns))
	mux.HandleFunc("GET /v1/breakdowns/{id}", s.auth(s.handleGetBreakdown))
	mux.HandleFunc("GET /v1/timeline", s.auth(s.handleTimeline))
	mux.HandleFunc("GET /v1/parties", s.auth(s.handleListParties))
	mux.HandleFunc("POST /v1/parties", s.auth(s.handleCreateParty))
	mux.HandleFunc("GET /v1/parties/{id}", s.auth(s.handleGetParty))
	mux.HandleFunc("DELETE /v1/parties/{id}", s.auth(s.handleDeleteParty))
	mux.HandleFunc("POST /v1/parties/{id}/relationships", s.auth(s.handleRelateParty))
	mux.HandleFunc("PATCH /v1/relationships/{id}", s.auth(s.handleSetRelationshipStatus))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createSourceRequest is the body accepted by POST /v1/sources.
type createSourceRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	src, err := s.sources.Create(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, source.ErrInvalidURL) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to create source", "url", req.URL, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create source")
		return
	}

	s.writeJSON(w, http.StatusCreated, sourceSummary(src))
}

// sourceResponse is a source without its raw content.
type sourceResponse struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	HTTPCode   int       `json:"httpCode"`
	AccessedAt time.Time `json:"accessedAt"`
	Available  bool      `json:"available"`
	ContentLen int       `json:"contentLength"`
}

func sourceSummary(src *models.Source) sourceResponse {
	return sourceResponse{
		ID:         src.ID,
		URL:        src.URL,
		HTTPCode:   src.HTTPCode,
		AccessedAt: src.AccessedAt,
		Available:  src.Available(),
		ContentLen: len(src.Content),
	}
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	src, err := s.sources.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, "source", id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sourceSummary(src))
}

// runBreakdownRequest is the optional body accepted by
// POST /v1/sources/{id}/breakdowns.
type runBreakdownRequest struct {
	Strategy   models.Strategy `json:"strategy"`
	ChunkLimit int             `json:"chunk_limit"`
	Retry      *bool           `json:"retry"`
}

// handleRunBreakdown runs the breakdown to completion before responding.
// A stage failure answers 502 with the saved failed breakdown.
func (s *Server) handleRunBreakdown(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req runBreakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Strategy != "" && !req.Strategy.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid strategy")
		return
	}
	if req.ChunkLimit < 0 {
		s.writeError(w, http.StatusBadRequest, "chunk_limit must be >= 0")
		return
	}

	id := r.PathValue("id")
	b, err := s.breakdowns.Run(r.Context(), id, pipeline.RunOptions{
		Strategy:   req.Strategy,
		ChunkLimit: req.ChunkLimit,
		Retry:      req.Retry,
	})
	if err != nil {
		var stageErr *pipeline.StageError
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "source not found")
		case errors.Is(err, source.ErrContentUnavailable):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &stageErr):
			s.logger.Error("breakdown failed", "source_id", id, "breakdown_id", stageErr.BreakdownID, "stage", stageErr.Stage, "error", err)
			s.writeJSON(w, http.StatusBadGateway, b)
		default:
			s.logger.Error("failed to run breakdown", "source_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to run breakdown")
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBreakdowns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sources.Get(r.Context(), id); err != nil {
		s.writeLookupError(w, "source", id, err)
		return
	}
	list, err := s.breakdowns.List(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list breakdowns", "source_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list breakdowns")
		return
	}
	if list == nil {
		list = []models.Breakdown{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"breakdowns": list})
}

func (s *Server) handleGetBreakdown(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := s.breakdowns.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, "breakdown", id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.corpus.ListTimeline(r.Context())
	if err != nil {
		s.logger.Error("failed to list timeline", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list timeline")
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleListParties(w http.ResponseWriter, r *http.Request) {
	parties, err := s.corpus.ListParties(r.Context())
	if err != nil {
		s.logger.Error("failed to list parties", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list parties")
		return
	}
	if parties == nil {
		parties = []models.Party{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"parties": parties})
}

// createPartyRequest is the body accepted by POST /v1/parties.
type createPartyRequest struct {
	Name                      string           `json:"name"`
	Type                      models.PartyType `json:"type"`
	Aliases                   []string         `json:"aliases"`
	DisambiguationDescription string           `json:"disambiguationDescription"`
}

func (s *Server) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req createPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.parties.Create(r.Context(), models.Party{
		Name:                      req.Name,
		Type:                      req.Type,
		Aliases:                   req.Aliases,
		DisambiguationDescription: req.DisambiguationDescription,
	})
	if err != nil {
		s.writePartyError(w, "create party", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

// handleGetParty answers with the party, its relationships and the
// parties they point at.
func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := s.parties.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, "party", id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteParty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.parties.Delete(r.Context(), id); err != nil {
		s.writeLookupError(w, "party", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// relateRequest is the body accepted by POST /v1/parties/{id}/relationships.
type relateRequest struct {
	ToPartyID string `json:"to_party_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
}

func (s *Server) handleRelateParty(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req relateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	typ, err := models.ParseRelationshipType(req.Type)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := models.ParseRelationshipStatus(req.Status)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rel, err := s.parties.Relate(r.Context(), r.PathValue("id"), req.ToPartyID, typ, status)
	if err != nil {
		s.writePartyError(w, "relate parties", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rel)
}

// statusRequest is the body accepted by PATCH /v1/relationships/{id}.
type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetRelationshipStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		s.writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	status, err := models.ParseRelationshipStatus(req.Status)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rel, err := s.parties.SetStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		s.writePartyError(w, "update relationship", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rel)
}

// --- helpers ---

// writeLookupError maps store.ErrNotFound to 404 and anything else to 500.
func (s *Server) writeLookupError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	s.logger.Error("failed to get "+kind, "id", id, "error", err)
	s.writeError(w, http.StatusInternalServerError, "failed to get "+kind)
}

// writePartyError maps party validation, identity and lookup failures.
func (s *Server) writePartyError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, party.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, party.ErrExists):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("failed to "+op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
