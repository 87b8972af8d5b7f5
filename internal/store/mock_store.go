package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/docbreak/internal/models"
)

// MockStore is an in-memory implementation of Store for testing.
// Records are copied on the way in and out so callers never share slices
// with stored data.
type MockStore struct {
	mu         sync.RWMutex
	sources    map[string]models.Source
	breakdowns map[string]*models.Breakdown
	parties    map[string]models.Party
	relations  map[string]models.PartyRelationship
	events     []models.Event
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		sources:    make(map[string]models.Source),
		breakdowns: make(map[string]*models.Breakdown),
		parties:    make(map[string]models.Party),
		relations:  make(map[string]models.PartyRelationship),
	}
}

// UpsertSource inserts or replaces a source.
func (m *MockStore) UpsertSource(_ context.Context, src models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src
	return nil
}

// GetSource retrieves a source by ID.
func (m *MockStore) GetSource(_ context.Context, id string) (*models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return &src, nil
}

// ListSources returns sources newest first, content omitted.
func (m *MockStore) ListSources(_ context.Context, limit int) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0, len(m.sources))
	for _, src := range m.sources {
		src.Content = ""
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessedAt.After(out[j].AccessedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSource removes a source and its breakdowns.
func (m *MockStore) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	delete(m.sources, id)
	for bid, b := range m.breakdowns {
		if b.SourceID == id {
			delete(m.breakdowns, bid)
		}
	}
	return nil
}

// UpsertBreakdown inserts or replaces a breakdown.
func (m *MockStore) UpsertBreakdown(_ context.Context, b *models.Breakdown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakdowns[b.ID] = b.Clone()
	return nil
}

// GetBreakdown retrieves a breakdown by ID.
func (m *MockStore) GetBreakdown(_ context.Context, id string) (*models.Breakdown, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakdowns[id]
	if !ok {
		return nil, fmt.Errorf("%w: breakdown %s", ErrNotFound, id)
	}
	return b.Clone(), nil
}

// ListBreakdownsBySource returns a source's breakdowns newest first.
func (m *MockStore) ListBreakdownsBySource(_ context.Context, sourceID string) ([]models.Breakdown, error) {
	return m.filterBreakdowns(func(b *models.Breakdown) bool { return b.SourceID == sourceID }), nil
}

// ListStalledBreakdowns returns non-terminal breakdowns untouched since cutoff.
func (m *MockStore) ListStalledBreakdowns(_ context.Context, cutoff time.Time) ([]models.Breakdown, error) {
	return m.filterBreakdowns(func(b *models.Breakdown) bool {
		return !b.Stage.IsTerminal() && b.UpdatedAt.Before(cutoff)
	}), nil
}

func (m *MockStore) filterBreakdowns(keep func(*models.Breakdown) bool) []models.Breakdown {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Breakdown
	for _, b := range m.breakdowns {
		if keep(b) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpsertParty inserts or replaces a party. A new ID whose name and type
// are already stored is ignored.
func (m *MockStore) UpsertParty(_ context.Context, p models.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parties[p.ID]; !ok {
		for _, existing := range m.parties {
			if existing.Key() == p.Key() {
				return nil
			}
		}
	}
	m.parties[p.ID] = copyParty(p)
	return nil
}

// FindPartyByIdentity matches name and type exactly.
func (m *MockStore) FindPartyByIdentity(_ context.Context, name string, typ models.PartyType) (*models.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.parties {
		if p.Name == name && p.Type == typ {
			cp := copyParty(p)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: party %s (%s)", ErrNotFound, name, typ)
}

// GetParty retrieves a party by ID.
func (m *MockStore) GetParty(_ context.Context, id string) (*models.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parties[id]
	if !ok {
		return nil, fmt.Errorf("%w: party %s", ErrNotFound, id)
	}
	cp := copyParty(p)
	return &cp, nil
}

// ListParties returns all parties ordered by name.
func (m *MockStore) ListParties(_ context.Context) ([]models.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Party, 0, len(m.parties))
	for _, p := range m.parties {
		out = append(out, copyParty(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteParty removes a party and its relationships.
func (m *MockStore) DeleteParty(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parties[id]; !ok {
		return fmt.Errorf("%w: party %s", ErrNotFound, id)
	}
	delete(m.parties, id)
	for rid, r := range m.relations {
		if r.Involves(id) {
			delete(m.relations, rid)
		}
	}
	return nil
}

// UpsertRelationship inserts or replaces a relationship.
func (m *MockStore) UpsertRelationship(_ context.Context, r models.PartyRelationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations[r.ID] = r
	return nil
}

// GetRelationship retrieves a relationship by ID.
func (m *MockStore) GetRelationship(_ context.Context, id string) (*models.PartyRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relations[id]
	if !ok {
		return nil, fmt.Errorf("%w: relationship %s", ErrNotFound, id)
	}
	return &r, nil
}

// ListRelationshipsByParty returns partyID's relationships, oldest first.
func (m *MockStore) ListRelationshipsByParty(_ context.Context, partyID string) ([]models.PartyRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PartyRelationship
	for _, r := range m.relations {
		if r.Involves(partyID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InsertEvent appends an event to the corpus.
func (m *MockStore) InsertEvent(_ context.Context, e models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Embedding = append([]float32(nil), e.Embedding...)
	m.events = append(m.events, e)
	return nil
}

// FindSimilarEvents scans the whole corpus.
func (m *MockStore) FindSimilarEvents(_ context.Context, vector []float32, threshold float64) ([]SimilarEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return scanSimilar(m.events, vector, threshold), nil
}

// ListTimeline returns all events in timeline order.
func (m *MockStore) ListTimeline(_ context.Context) ([]models.Event, error) {
	m.mu.RLock()
	out := make([]models.Event, len(m.events))
	copy(out, m.events)
	m.mu.RUnlock()
	sortTimeline(out)
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

func copyParty(p models.Party) models.Party {
	if p.Aliases != nil {
		p.Aliases = append([]string(nil), p.Aliases...)
	}
	return p
}
