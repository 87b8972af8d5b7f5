package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/pkg/vecmath"
)

// ErrNotFound is returned by lookups when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SourceStore persists retrieved documents.
type SourceStore interface {
	UpsertSource(ctx context.Context, src models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	// ListSources returns sources newest first, without their content.
	ListSources(ctx context.Context, limit int) ([]models.Source, error)
	DeleteSource(ctx context.Context, id string) error
}

// BreakdownStore persists breakdown checkpoints. UpsertBreakdown is keyed by
// the breakdown ID so repeated saves of one run never create duplicates.
type BreakdownStore interface {
	UpsertBreakdown(ctx context.Context, b *models.Breakdown) error
	GetBreakdown(ctx context.Context, id string) (*models.Breakdown, error)
	// ListBreakdownsBySource returns a source's breakdowns newest first.
	ListBreakdownsBySource(ctx context.Context, sourceID string) ([]models.Breakdown, error)
	// ListStalledBreakdowns returns non-terminal breakdowns last updated
	// before cutoff.
	ListStalledBreakdowns(ctx context.Context, cutoff time.Time) ([]models.Breakdown, error)
}

// PartyStore persists the cross-document party corpus. Name and type
// identify a party: UpsertParty of a new ID whose identity is already
// stored is a no-op, so concurrent writers converge on the first record.
type PartyStore interface {
	UpsertParty(ctx context.Context, p models.Party) error
	// FindPartyByIdentity matches name and type exactly.
	FindPartyByIdentity(ctx context.Context, name string, typ models.PartyType) (*models.Party, error)
	GetParty(ctx context.Context, id string) (*models.Party, error)
	ListParties(ctx context.Context) ([]models.Party, error)
	// DeleteParty removes a party together with every relationship it is
	// part of.
	DeleteParty(ctx context.Context, id string) error
}

// RelationshipStore persists links between parties.
type RelationshipStore interface {
	UpsertRelationship(ctx context.Context, r models.PartyRelationship) error
	GetRelationship(ctx context.Context, id string) (*models.PartyRelationship, error)
	// ListRelationshipsByParty returns the relationships with partyID at
	// either end, oldest first.
	ListRelationshipsByParty(ctx context.Context, partyID string) ([]models.PartyRelationship, error)
}

// EventStore persists the cross-document event corpus with embeddings.
type EventStore interface {
	InsertEvent(ctx context.Context, e models.Event) error
	// FindSimilarEvents returns corpus events whose embedding has cosine
	// similarity >= threshold with vector, most similar first.
	FindSimilarEvents(ctx context.Context, vector []float32, threshold float64) ([]SimilarEvent, error)
	// ListTimeline returns all events ordered by start date; undated
	// events come last.
	ListTimeline(ctx context.Context) ([]models.Event, error)
}

// Store is the complete record store.
type Store interface {
	SourceStore
	BreakdownStore
	PartyStore
	RelationshipStore
	EventStore
	Close() error
}

// SimilarEvent is a corpus event with its similarity to a query vector.
type SimilarEvent struct {
	Event models.Event
	Score float64
}

// scanSimilar linearly scores events against vector.
func scanSimilar(events []models.Event, vector []float32, threshold float64) []SimilarEvent {
	var out []SimilarEvent
	for i := range events {
		score := vecmath.CosineSimilarity(vector, events[i].Embedding)
		if score >= threshold {
			out = append(out, SimilarEvent{Event: events[i], Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// sortTimeline orders events by start instant, undated events last, ties
// broken by creation time.
func sortTimeline(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].StartDate, events[j].StartDate
		switch {
		case a == nil && b == nil:
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.DateTime.Equal(b.DateTime):
			return a.DateTime.Before(b.DateTime)
		default:
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
	})
}
