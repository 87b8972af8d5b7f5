package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/docbreak/internal/models"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("mock", func(t *testing.T) {
		fn(t, NewMockStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docbreak.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func seedSource(t *testing.T, s Store, id string, at time.Time) {
	t.Helper()
	require.NoError(t, s.UpsertSource(context.Background(), models.Source{
		ID: id, URL: "https://example.com/" + id, Content: "body of " + id, HTTPCode: 200, AccessedAt: at,
	}))
}

func TestStore_Sources(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSource(t, s, "s1", t0)
		seedSource(t, s, "s2", t0.Add(time.Hour))

		got, err := s.GetSource(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "body of s1", got.Content)
		assert.Equal(t, t0, got.AccessedAt)

		list, err := s.ListSources(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "s2", list[0].ID)
		assert.Empty(t, list[0].Content)

		require.NoError(t, s.DeleteSource(ctx, "s1"))
		_, err = s.GetSource(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteSource(ctx, "s1"), ErrNotFound)
	})
}

func TestStore_BreakdownUpsertIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSource(t, s, "src", t0)

		b := &models.Breakdown{
			ID: "b1", SourceID: "src", Strategy: models.StrategyQuick, Stage: models.StageSummarizing,
			ChunkCount: 2, ChunkSummaries: []string{"one", ""}, CreatedAt: t0, UpdatedAt: t0,
		}
		require.NoError(t, s.UpsertBreakdown(ctx, b))

		b.ChunkSummaries[1] = "two"
		b.Stage = models.StageComplete
		b.Result = &models.BreakdownResult{
			Parties:   []models.Party{{ID: "p", Name: "Ada", Type: models.PartyTypeIndividual, CreatedAt: t0}},
			Locations: []models.Location{{"name": "London"}},
			Timeline:  []models.Event{},
		}
		b.AddTokens(10, 4)
		require.NoError(t, s.UpsertBreakdown(ctx, b))

		list, err := s.ListBreakdownsBySource(ctx, "src")
		require.NoError(t, err)
		require.Len(t, list, 1)

		got, err := s.GetBreakdown(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, models.StageComplete, got.Stage)
		assert.Equal(t, []string{"one", "two"}, got.ChunkSummaries)
		assert.Equal(t, int64(10), got.InputTokens)
		require.NotNil(t, got.Result)
		assert.Equal(t, "Ada", got.Result.Parties[0].Name)
		assert.Equal(t, "London", got.Result.Locations[0].Name())

		_, err = s.GetBreakdown(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListStalledBreakdowns(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedSource(t, s, "src", t0)
		for _, b := range []*models.Breakdown{
			{ID: "old-running", SourceID: "src", Stage: models.StageTimeline, CreatedAt: t0, UpdatedAt: t0},
			{ID: "old-done", SourceID: "src", Stage: models.StageComplete, CreatedAt: t0, UpdatedAt: t0},
			{ID: "old-failed", SourceID: "src", Stage: models.StageFailed, CreatedAt: t0, UpdatedAt: t0},
			{ID: "fresh", SourceID: "src", Stage: models.StageParties, CreatedAt: t0, UpdatedAt: t0.Add(2 * time.Hour)},
		} {
			require.NoError(t, s.UpsertBreakdown(ctx, b))
		}

		stalled, err := s.ListStalledBreakdowns(ctx, t0.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, stalled, 1)
		assert.Equal(t, "old-running", stalled[0].ID)
	})
}

func TestStore_Parties(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := models.Party{ID: "p1", Name: "Acme", Type: models.PartyTypeOrganization, Aliases: []string{"ACME Corp"}, CreatedAt: t0}
		require.NoError(t, s.UpsertParty(ctx, p))

		found, err := s.FindPartyByIdentity(ctx, "Acme", models.PartyTypeOrganization)
		require.NoError(t, err)
		assert.Equal(t, "p1", found.ID)
		assert.Equal(t, []string{"ACME Corp"}, found.Aliases)

		_, err = s.FindPartyByIdentity(ctx, "Acme", models.PartyTypeIndividual)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindPartyByIdentity(ctx, "acme", models.PartyTypeOrganization)
		assert.ErrorIs(t, err, ErrNotFound)

		found.Aliases = append(found.Aliases, "Acme Inc")
		require.NoError(t, s.UpsertParty(ctx, *found))
		require.NoError(t, s.UpsertParty(ctx, models.Party{ID: "p0", Name: "Ada", Type: models.PartyTypeIndividual, CreatedAt: t0}))

		all, err := s.ListParties(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Acme", all[0].Name)
		assert.Equal(t, []string{"ACME Corp", "Acme Inc"}, all[0].Aliases)

		got, err := s.GetParty(ctx, "p0")
		require.NoError(t, err)
		assert.Nil(t, got.Aliases)
	})
}

func TestStore_PartyIdentityKeepsFirstRecord(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.UpsertParty(ctx, models.Party{ID: "first", Name: "Acme", Type: models.PartyTypeOrganization, CreatedAt: t0}))
		require.NoError(t, s.UpsertParty(ctx, models.Party{
			ID: "second", Name: "Acme", Type: models.PartyTypeOrganization, Aliases: []string{"ACME"}, CreatedAt: t0.Add(time.Minute),
		}))

		all, err := s.ListParties(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "first", all[0].ID)
		assert.Nil(t, all[0].Aliases)
		_, err = s.GetParty(ctx, "second")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_RelationshipsCascadeWithParty(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, p := range []models.Party{
			{ID: "ada", Name: "Ada", Type: models.PartyTypeIndividual, CreatedAt: t0},
			{ID: "soc", Name: "Analytical Society", Type: models.PartyTypeOrganization, CreatedAt: t0},
			{ID: "bab", Name: "Babbage", Type: models.PartyTypeIndividual, CreatedAt: t0},
		} {
			require.NoError(t, s.UpsertParty(ctx, p))
		}
		rel := func(id, from, to string, at time.Time) models.PartyRelationship {
			return models.PartyRelationship{ID: id, FromPartyID: from, ToPartyID: to, Type: models.RelationshipMembership,
				Status: models.RelationshipActive, CreatedAt: at, UpdatedAt: at}
		}
		require.NoError(t, s.UpsertRelationship(ctx, rel("r1", "ada", "soc", t0)))
		require.NoError(t, s.UpsertRelationship(ctx, rel("r2", "bab", "ada", t0.Add(time.Hour))))
		require.NoError(t, s.UpsertRelationship(ctx, rel("r3", "bab", "soc", t0)))

		r1, err := s.GetRelationship(ctx, "r1")
		require.NoError(t, err)
		r1.SetStatus(models.RelationshipInactive, t0.Add(2*time.Hour))
		require.NoError(t, s.UpsertRelationship(ctx, *r1))

		list, err := s.ListRelationshipsByParty(ctx, "ada")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "r1", list[0].ID)
		assert.Equal(t, models.RelationshipInactive, list[0].Status)
		assert.Equal(t, t0.Add(2*time.Hour), list[0].UpdatedAt)
		assert.Equal(t, "r2", list[1].ID)

		require.NoError(t, s.DeleteParty(ctx, "ada"))
		_, err = s.GetParty(ctx, "ada")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRelationship(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRelationship(ctx, "r2")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRelationship(ctx, "r3")
		assert.NoError(t, err, "relationships not involving the party survive")

		assert.ErrorIs(t, s.DeleteParty(ctx, "ada"), ErrNotFound)
	})
}

func TestStore_EventsSimilarityAndTimeline(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		day := func(y int) *models.FuzzyDate {
			return &models.FuzzyDate{DateTime: time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC), Precision: models.PrecisionYear}
		}
		require.NoError(t, s.InsertEvent(ctx, models.Event{ID: "e-late", Name: "Late", StartDate: day(2020), Embedding: []float32{1, 0, 0}, CreatedAt: t0}))
		require.NoError(t, s.InsertEvent(ctx, models.Event{ID: "e-undated", Name: "Undated", Embedding: []float32{0, 1, 0}, CreatedAt: t0}))
		require.NoError(t, s.InsertEvent(ctx, models.Event{ID: "e-early", Name: "Early", StartDate: day(1850), EndDate: day(1851), Embedding: []float32{0.9, 0.1, 0}, CreatedAt: t0}))

		similar, err := s.FindSimilarEvents(ctx, []float32{1, 0, 0}, 0.8)
		require.NoError(t, err)
		require.Len(t, similar, 2)
		assert.Equal(t, "e-late", similar[0].Event.ID)
		assert.InDelta(t, 1.0, similar[0].Score, 1e-6)
		assert.Equal(t, "e-early", similar[1].Event.ID)

		none, err := s.FindSimilarEvents(ctx, []float32{1, 0}, 0.8)
		require.NoError(t, err)
		assert.Empty(t, none, "dimension mismatch is never a match")

		timeline, err := s.ListTimeline(ctx)
		require.NoError(t, err)
		require.Len(t, timeline, 3)
		assert.Equal(t, []string{"e-early", "e-late", "e-undated"}, []string{timeline[0].ID, timeline[1].ID, timeline[2].ID})
		require.NotNil(t, timeline[0].EndDate)
		assert.Equal(t, 1851, timeline[0].EndDate.DateTime.Year())
	})
}

type fakeIndex struct {
	indexed []string
	closed  bool
}

func (f *fakeIndex) IndexEvent(_ context.Context, e models.Event) error {
	f.indexed = append(f.indexed, e.ID)
	return nil
}

func (f *fakeIndex) FindSimilarEvents(_ context.Context, _ []float32, _ float64) ([]SimilarEvent, error) {
	return []SimilarEvent{{Event: models.Event{ID: "from-index"}, Score: 0.99}}, nil
}

func (f *fakeIndex) Close() error {
	f.closed = true
	return nil
}

func TestIndexedStore_RoutesEventsThroughIndex(t *testing.T) {
	ctx := context.Background()
	base := NewMockStore()
	idx := &fakeIndex{}
	s := WithEventIndex(base, idx)

	require.NoError(t, s.InsertEvent(ctx, models.Event{ID: "e1", Name: "E", Embedding: []float32{1}}))
	assert.Equal(t, []string{"e1"}, idx.indexed)

	timeline, err := base.ListTimeline(ctx)
	require.NoError(t, err)
	assert.Len(t, timeline, 1, "record store still holds the event")

	similar, err := s.FindSimilarEvents(ctx, []float32{1}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, "from-index", similar[0].Event.ID)

	require.NoError(t, s.Close())
	assert.True(t, idx.closed)
}

func TestQdrantEventIndex_DimensionMismatchMatchesNothing(t *testing.T) {
	// No client is set: a mismatched query must return before any RPC.
	q := &QdrantEventIndex{collName: "events", dimension: 4, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	similar, err := q.FindSimilarEvents(context.Background(), []float32{1, 0, 0}, 0.8)
	require.NoError(t, err)
	assert.Empty(t, similar)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, decodeVector(nil))
	assert.Nil(t, encodeVector(nil))
}
