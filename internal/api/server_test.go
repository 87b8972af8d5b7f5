package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/docbreak/internal/api"
	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/party"
	"github.com/ajitpratap0/docbreak/internal/pipeline"
	"github.com/ajitpratap0/docbreak/internal/source"
	"github.com/ajitpratap0/docbreak/internal/store"
)

// fakeBreakdowns records run options and answers from a MockStore.
type fakeBreakdowns struct {
	st      *store.MockStore
	lastRun pipeline.RunOptions
	failAt  models.Stage
}

func (f *fakeBreakdowns) Run(ctx context.Context, sourceID string, opts pipeline.RunOptions) (*models.Breakdown, error) {
	f.lastRun = opts
	src, err := f.st.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}
	if !src.Available() {
		return nil, source.ErrContentUnavailable
	}
	now := time.Now().UTC()
	b := &models.Breakdown{ID: "bd-" + sourceID, SourceID: sourceID, Strategy: models.StrategyQuick,
		Stage: models.StageComplete, CreatedAt: now, UpdatedAt: now}
	if f.failAt != "" {
		b.Stage = models.StageFailed
		b.FailedStage = f.failAt
		b.Error = "boom"
		if err := f.st.UpsertBreakdown(ctx, b); err != nil {
			return nil, err
		}
		return b, &pipeline.StageError{BreakdownID: b.ID, Stage: f.failAt, Err: fmt.Errorf("boom")}
	}
	if err := f.st.UpsertBreakdown(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *fakeBreakdowns) Get(ctx context.Context, id string) (*models.Breakdown, error) {
	return f.st.GetBreakdown(ctx, id)
}

func (f *fakeBreakdowns) List(ctx context.Context, sourceID string) ([]models.Breakdown, error) {
	return f.st.ListBreakdownsBySource(ctx, sourceID)
}

type testEnv struct {
	ts         *httptest.Server
	upstream   *httptest.Server
	st         *store.MockStore
	breakdowns *fakeBreakdowns
}

// newTestServer creates an API server over a MockStore, with an upstream
// document server for source creation.
func newTestServer(t *testing.T, authToken string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "Ada Lovelace wrote the first program.")
	}))
	t.Cleanup(upstream.Close)

	st := store.NewMockStore()
	sources := source.NewService(st, source.NewFetcher(2*time.Second, "", logger), nil, logger)
	bd := &fakeBreakdowns{st: st}
	srv := api.NewServer(sources, bd, st, party.NewService(st, logger), logger, authToken)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, upstream: upstream, st: st, breakdowns: bd}
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func doRequest(t *testing.T, method, url string, body *bytes.Buffer, token string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(context.Background(), method, url, body)
	} else {
		req, err = http.NewRequestWithContext(context.Background(), method, url, http.NoBody)
	}
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createSource(t *testing.T, env *testEnv, path string) string {
	t.Helper()
	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources", jsonBody(t, map[string]string{"url": env.upstream.URL + path}), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]any
	decode(t, resp, &out)
	return out["id"].(string)
}

func TestAPI_Healthz(t *testing.T) {
	env := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]string
	decode(t, resp, &result)
	assert.Equal(t, "ok", result["status"])
}

func TestAPI_Auth(t *testing.T) {
	env := newTestServer(t, "secret")

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties", nil, "wrong")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties", nil, "secret")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_CreateAndGetSource(t *testing.T) {
	env := newTestServer(t, "")
	id := createSource(t, env, "/doc")

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/sources/"+id, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	decode(t, resp, &got)
	assert.Equal(t, true, got["available"])
	assert.EqualValues(t, 200, got["httpCode"])
	assert.NotContains(t, got, "content")

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/sources/nope", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateSourceValidation(t *testing.T) {
	env := newTestServer(t, "")

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources", jsonBody(t, map[string]string{}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources", jsonBody(t, map[string]string{"url": "ftp://x"}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources", bytes.NewBufferString("{"), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RunAndListBreakdowns(t *testing.T) {
	env := newTestServer(t, "")
	id := createSource(t, env, "/doc")

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources/"+id+"/breakdowns",
		jsonBody(t, map[string]any{"strategy": "growing-summary", "chunk_limit": 2, "retry": true}), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b models.Breakdown
	decode(t, resp, &b)
	assert.Equal(t, models.StageComplete, b.Stage)

	assert.Equal(t, models.StrategyGrowingSummary, env.breakdowns.lastRun.Strategy)
	assert.Equal(t, 2, env.breakdowns.lastRun.ChunkLimit)
	require.NotNil(t, env.breakdowns.lastRun.Retry)
	assert.True(t, *env.breakdowns.lastRun.Retry)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/sources/"+id+"/breakdowns", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Breakdowns []models.Breakdown `json:"breakdowns"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Breakdowns, 1)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/breakdowns/"+b.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/breakdowns/missing", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RunBreakdownWithoutBody(t *testing.T) {
	env := newTestServer(t, "")
	id := createSource(t, env, "/doc")

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources/"+id+"/breakdowns", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Nil(t, env.breakdowns.lastRun.Retry)
}

func TestAPI_RunBreakdownErrors(t *testing.T) {
	env := newTestServer(t, "")

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources/nope/breakdowns", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	missing := createSource(t, env, "/missing")
	resp = doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources/"+missing+"/breakdowns", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	id := createSource(t, env, "/doc")
	resp = doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources/"+id+"/breakdowns",
		jsonBody(t, map[string]any{"strategy": "slow"}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.breakdowns.failAt = models.StageTimeline
	resp = doRequest(t, http.MethodPost, env.ts.URL+"/v1/sources/"+id+"/breakdowns", nil, "")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var b models.Breakdown
	decode(t, resp, &b)
	assert.Equal(t, models.StageFailed, b.Stage)
	assert.Equal(t, models.StageTimeline, b.FailedStage)
}

func TestAPI_CorpusEndpoints(t *testing.T) {
	env := newTestServer(t, "")
	ctx := context.Background()
	require.NoError(t, env.st.UpsertParty(ctx, models.Party{ID: "p-1", Name: "Ada Lovelace", Type: models.PartyTypeIndividual}))
	require.NoError(t, env.st.InsertEvent(ctx, models.Event{
		ID: "e-1", Name: "Notes", Description: "Published",
		StartDate: &models.FuzzyDate{DateTime: time.Date(1843, 9, 1, 0, 0, 0, 0, time.UTC), Precision: models.PrecisionMonth},
		Embedding: []float32{1, 0},
	}))

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties", nil, "")
	var parties struct {
		Parties []models.Party `json:"parties"`
	}
	decode(t, resp, &parties)
	require.Len(t, parties.Parties, 1)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties/p-1", nil, "")
	var detail party.Detail
	decode(t, resp, &detail)
	assert.Equal(t, "Ada Lovelace", detail.Party.Name)
	assert.Empty(t, detail.Relationships)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties/p-2", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/timeline", nil, "")
	var timeline struct {
		Events []models.Event `json:"events"`
	}
	decode(t, resp, &timeline)
	require.Len(t, timeline.Events, 1)
	assert.Equal(t, models.PrecisionMonth, timeline.Events[0].StartDate.Precision)
}

func createParty(t *testing.T, env *testEnv, name string, typ models.PartyType) models.Party {
	t.Helper()
	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/parties", jsonBody(t, map[string]any{"name": name, "type": typ}), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p models.Party
	decode(t, resp, &p)
	return p
}

func TestAPI_PartyLifecycle(t *testing.T) {
	env := newTestServer(t, "")
	ada := createParty(t, env, "Ada Lovelace", models.PartyTypeIndividual)
	soc := createParty(t, env, "Analytical Society", models.PartyTypeOrganization)

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/parties",
		jsonBody(t, map[string]any{"name": "Ada Lovelace", "type": "individual"}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, env.ts.URL+"/v1/parties",
		jsonBody(t, map[string]any{"name": "Ada", "type": "robot"}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, env.ts.URL+"/v1/parties/"+ada.ID+"/relationships",
		jsonBody(t, map[string]any{"to_party_id": soc.ID, "type": "Membership"}), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rel models.PartyRelationship
	decode(t, resp, &rel)
	assert.Equal(t, models.RelationshipMembership, rel.Type)
	assert.Equal(t, models.RelationshipActive, rel.Status)

	resp = doRequest(t, http.MethodPatch, env.ts.URL+"/v1/relationships/"+rel.ID,
		jsonBody(t, map[string]any{"status": "inactive"}), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &rel)
	assert.Equal(t, models.RelationshipInactive, rel.Status)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties/"+soc.ID, nil, "")
	var detail party.Detail
	decode(t, resp, &detail)
	require.Len(t, detail.Relationships, 1)
	assert.Equal(t, "Ada Lovelace", detail.RelatedParties[ada.ID].Name)

	resp = doRequest(t, http.MethodDelete, env.ts.URL+"/v1/parties/"+ada.ID, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/v1/parties/"+soc.ID, nil, "")
	decode(t, resp, &detail)
	assert.Empty(t, detail.Relationships, "deleting a party removes its relationships")

	resp = doRequest(t, http.MethodDelete, env.ts.URL+"/v1/parties/"+ada.ID, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RelationshipValidation(t *testing.T) {
	env := newTestServer(t, "")
	ada := createParty(t, env, "Ada Lovelace", models.PartyTypeIndividual)

	for _, tc := range []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown type", map[string]any{"to_party_id": "x", "type": "rivalry"}, http.StatusBadRequest},
		{"unknown status", map[string]any{"to_party_id": "x", "type": "association", "status": "paused"}, http.StatusBadRequest},
		{"self", map[string]any{"to_party_id": ada.ID, "type": "association"}, http.StatusBadRequest},
		{"missing party", map[string]any{"to_party_id": "nope", "type": "association"}, http.StatusNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, env.ts.URL+"/v1/parties/"+ada.ID+"/relationships", jsonBody(t, tc.body), "")
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	resp := doRequest(t, http.MethodPatch, env.ts.URL+"/v1/relationships/nope", jsonBody(t, map[string]any{"status": "active"}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodPatch, env.ts.URL+"/v1/relationships/nope", jsonBody(t, map[string]any{}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
