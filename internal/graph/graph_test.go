package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/docbreak/internal/models"
)

func TestMentions(t *testing.T) {
	parties := []models.Party{{ID: "p1", Name: "Ada"}, {ID: "p1", Name: "Ada"}}
	events := []models.Event{{ID: "e1", Name: "Notes published"}}
	locations := []models.Location{{"name": "London"}, {"country": "UK"}}

	got := Mentions("s1", parties, events, locations)
	require.Len(t, got, 3)
	assert.Equal(t, models.Mention{SourceID: "s1", TargetID: "p1", TargetKind: models.MentionParty, Name: "Ada"}, got[0])
	assert.Equal(t, models.MentionEvent, got[1].TargetKind)
	assert.Equal(t, "London", got[2].TargetID)
}

func TestMentionQuery(t *testing.T) {
	q, err := mentionQuery(models.MentionLocation)
	require.NoError(t, err)
	assert.Contains(t, q, "MERGE (n:Location {id: t.id})")
	assert.Contains(t, q, "MERGE (s)-[:MENTIONS]->(n)")

	_, err = mentionQuery("planet")
	assert.Error(t, err)
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.RecordMentions(context.Background(), models.Source{}, nil))
	assert.NoError(t, s.Close(context.Background()))
}
