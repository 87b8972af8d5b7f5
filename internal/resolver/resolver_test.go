package resolver

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store"
)

// tableEmbedder returns a fixed vector per embedding text.
type tableEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return v, nil
}

func (e *tableEmbedder) Dimension() int { return 2 }

func event(name, desc string) models.Event {
	return models.Event{Name: name, Description: desc}
}

func TestStoreEvent_NearDuplicateIsDropped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	emb := &tableEmbedder{vectors: map[string][]float32{
		"Treaty signed The treaty was signed.":          {1, 0},
		"Treaty signing Delegates signed the treaty.":   {0.92, float32(math.Sqrt(1 - 0.92*0.92))},
		"Harvest festival The village held a festival.": {0.5, float32(math.Sqrt(0.75))},
	}}
	r := New(s, s, emb, 0.8, nil)

	first, stored, err := r.StoreEvent(ctx, "src-1", event("Treaty signed", "The treaty was signed."))
	require.NoError(t, err)
	require.True(t, stored)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "src-1", first.SourceID)
	assert.Equal(t, []float32{1, 0}, first.Embedding)

	match, stored, err := r.StoreEvent(ctx, "src-2", event("Treaty signing", "Delegates signed the treaty."))
	require.NoError(t, err)
	assert.False(t, stored, "0.92 similarity is a duplicate at threshold 0.8")
	assert.Equal(t, first.ID, match.ID, "first-seen event wins")

	_, stored, err = r.StoreEvent(ctx, "src-2", event("Harvest festival", "The village held a festival."))
	require.NoError(t, err)
	assert.True(t, stored)

	timeline, err := s.ListTimeline(ctx)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, "The treaty was signed.", timeline[0].Description, "duplicate fields are not merged")
}

func TestStoreEvent_DimensionMismatchIsNotADuplicate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	require.NoError(t, s.InsertEvent(ctx, models.Event{ID: "old", Name: "Old", Embedding: []float32{1, 0}}))

	r := New(s, s, &tableEmbedder{vectors: map[string][]float32{"New d": {1, 0, 0}}}, 0.8, nil)
	_, stored, err := r.StoreEvent(ctx, "src", event("New", "d"))
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestStoreEvent_EmbeddingFailure(t *testing.T) {
	s := store.NewMockStore()
	r := New(s, s, &tableEmbedder{err: errors.New("embedder down")}, 0.8, nil)
	_, _, err := r.StoreEvent(context.Background(), "src", event("X", "y"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder down")
}

func TestMergeParty_ExactIdentityMergesAliases(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	r := New(s, s, &tableEmbedder{}, 0, nil)

	first, merged, err := r.MergeParty(ctx, models.Party{
		Name: "Acme", Type: models.PartyTypeOrganization, Aliases: []string{"ACME Corp"},
	})
	require.NoError(t, err)
	assert.False(t, merged)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second, merged, err := r.MergeParty(ctx, models.Party{
		Name: "Acme", Type: models.PartyTypeOrganization, Aliases: []string{"Acme Inc", "ACME Corp"},
		DisambiguationDescription: "anvil maker",
	})
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"ACME Corp", "Acme Inc"}, second.Aliases)
	assert.Equal(t, "anvil maker", second.DisambiguationDescription)

	third, _, err := r.MergeParty(ctx, models.Party{
		Name: "Acme", Type: models.PartyTypeOrganization, DisambiguationDescription: "something else",
	})
	require.NoError(t, err)
	assert.Equal(t, "anvil maker", third.DisambiguationDescription, "description is set once")

	all, err := s.ListParties(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMergeParty_DifferentTypeOrSpellingIsANewParty(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	r := New(s, s, &tableEmbedder{}, 0, nil)

	for _, p := range []models.Party{
		{Name: "Jordan", Type: models.PartyTypeIndividual},
		{Name: "Jordan", Type: models.PartyTypeOrganization},
		{Name: "jordan", Type: models.PartyTypeIndividual},
	} {
		_, merged, err := r.MergeParty(ctx, p)
		require.NoError(t, err)
		assert.False(t, merged)
	}
	all, err := s.ListParties(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestResolve_Report(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	emb := &tableEmbedder{vectors: map[string][]float32{
		"A a": {1, 0},
		"B b": {1, 0.01},
		"C c": {0, 1},
	}}
	r := New(s, s, emb, 0.8, nil)

	report, err := r.Resolve(ctx, "src", &models.BreakdownResult{
		Parties: []models.Party{
			{Name: "Ada", Type: models.PartyTypeIndividual},
			{Name: "Ada", Type: models.PartyTypeIndividual, Aliases: []string{"Countess"}},
		},
		Timeline: []models.Event{event("A", "a"), event("B", "b"), event("C", "c")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.PartiesCreated)
	assert.Equal(t, 1, report.PartiesMerged)
	require.Len(t, report.Parties, 2)
	assert.Equal(t, report.Parties[0].ID, report.Parties[1].ID)
	assert.Equal(t, 2, report.EventsStored)
	assert.Equal(t, 1, report.EventsDuplicate)
	require.Len(t, report.Events, 3, "duplicates resolve to their corpus event")
	assert.Equal(t, report.Events[0].ID, report.Events[1].ID)
	assert.NotEqual(t, report.Events[0].ID, report.Events[2].ID)
}

// lateLookupStore hides existing parties from the first identity lookup,
// as if another run stored them between lookup and insert.
type lateLookupStore struct {
	*store.MockStore
	hidden bool
}

func (s *lateLookupStore) FindPartyByIdentity(ctx context.Context, name string, typ models.PartyType) (*models.Party, error) {
	if !s.hidden {
		s.hidden = true
		return nil, store.ErrNotFound
	}
	return s.MockStore.FindPartyByIdentity(ctx, name, typ)
}

func TestMergeParty_LosingConcurrentInsertMergesIntoWinner(t *testing.T) {
	ctx := context.Background()
	s := &lateLookupStore{MockStore: store.NewMockStore()}
	require.NoError(t, s.UpsertParty(ctx, models.Party{ID: "winner", Name: "Acme", Type: models.PartyTypeOrganization}))

	r := New(s, s, &tableEmbedder{}, 0, nil)
	got, merged, err := r.MergeParty(ctx, models.Party{
		ID: "loser", Name: "Acme", Type: models.PartyTypeOrganization, Aliases: []string{"ACME"},
	})
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, "winner", got.ID)
	assert.Equal(t, []string{"ACME"}, got.Aliases)

	all, err := s.ListParties(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"ACME"}, all[0].Aliases)
}
