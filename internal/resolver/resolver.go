// Package resolver folds a breakdown's parties and events into the
// cross-document corpus. Parties merge on exact (name, type) identity;
// events are dropped when their embedding is close to one already stored.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/docbreak/internal/embedder"
	"github.com/ajitpratap0/docbreak/internal/metrics"
	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store"
)

// DefaultSimilarityThreshold is the cosine similarity at or above which a
// new event is a duplicate of a stored one.
const DefaultSimilarityThreshold = 0.8

// Resolver resolves extracted entities against the persisted corpus.
type Resolver struct {
	parties   store.PartyStore
	events    store.EventStore
	embedder  embedder.Embedder
	threshold float64
	logger    *slog.Logger
}

// New creates a Resolver. A non-positive threshold selects the default.
func New(parties store.PartyStore, events store.EventStore, emb embedder.Embedder, threshold float64, logger *slog.Logger) *Resolver {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{parties: parties, events: events, embedder: emb, threshold: threshold, logger: logger}
}

// Report summarizes one resolution pass.
type Report struct {
	// Parties are the canonical corpus records for every input party.
	Parties        []models.Party
	PartiesCreated int
	PartiesMerged  int

	// Events are the canonical corpus records for every input event: the
	// stored event, or the corpus event it duplicates.
	Events          []models.Event
	EventsStored    int
	EventsDuplicate int
}

// Resolve merges result's parties and deduplicates its timeline.
func (r *Resolver) Resolve(ctx context.Context, sourceID string, result *models.BreakdownResult) (*Report, error) {
	report := &Report{}
	if err := r.resolveParties(ctx, result.Parties, report); err != nil {
		return report, err
	}
	if err := r.resolveEvents(ctx, sourceID, result.Timeline, report); err != nil {
		return report, err
	}
	r.logger.Info("resolved entities",
		"source_id", sourceID,
		"parties_created", report.PartiesCreated, "parties_merged", report.PartiesMerged,
		"events_stored", report.EventsStored, "events_duplicate", report.EventsDuplicate)
	return report, nil
}

// MergeParty merges p into the corpus and returns the canonical record.
// A party with the same name and type gains p's new aliases and, if it has
// none yet, p's disambiguation description. Otherwise p is inserted.
func (r *Resolver) MergeParty(ctx context.Context, p models.Party) (models.Party, bool, error) {
	existing, err := r.parties.FindPartyByIdentity(ctx, p.Name, p.Type)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		if err := r.parties.UpsertParty(ctx, p); err != nil {
			return p, false, fmt.Errorf("inserting party %q: %w", p.Name, err)
		}
		// A concurrent run may have stored the same identity first, in
		// which case the insert was ignored and p merges into its record.
		existing, err = r.parties.FindPartyByIdentity(ctx, p.Name, p.Type)
		if err != nil {
			return p, false, fmt.Errorf("reading back party %q: %w", p.Name, err)
		}
		if existing.ID == p.ID {
			metrics.Inc(metrics.PartiesCreated)
			return *existing, false, nil
		}
	case err != nil:
		return p, false, fmt.Errorf("looking up party %q: %w", p.Name, err)
	}

	if existing.MergeFrom(p) {
		if err := r.parties.UpsertParty(ctx, *existing); err != nil {
			return *existing, true, fmt.Errorf("updating party %q: %w", p.Name, err)
		}
	}
	metrics.Inc(metrics.PartiesMerged)
	return *existing, true, nil
}

func (r *Resolver) resolveParties(ctx context.Context, parties []models.Party, report *Report) error {
	for _, p := range parties {
		canonical, merged, err := r.MergeParty(ctx, p)
		if err != nil {
			return err
		}
		if merged {
			report.PartiesMerged++
			r.logger.Debug("merged party", "name", p.Name, "type", p.Type, "id", canonical.ID)
		} else {
			report.PartiesCreated++
		}
		report.Parties = append(report.Parties, canonical)
	}
	return nil
}

// StoreEvent embeds e and stores it unless a corpus event is at least as
// similar as the threshold. The first event seen wins; nothing is merged
// into it. It returns the stored event, or the corpus event e duplicates,
// and reports whether e was stored.
func (r *Resolver) StoreEvent(ctx context.Context, sourceID string, e models.Event) (models.Event, bool, error) {
	vec, err := r.embedder.Embed(ctx, e.EmbeddingText())
	if err != nil {
		return e, false, fmt.Errorf("embedding event %q: %w", e.Name, err)
	}

	similar, err := r.events.FindSimilarEvents(ctx, vec, r.threshold)
	if err != nil {
		return e, false, fmt.Errorf("finding events similar to %q: %w", e.Name, err)
	}
	if len(similar) > 0 {
		metrics.Inc(metrics.EventsDeduplicated)
		r.logger.Debug("skipping duplicate event",
			"name", e.Name, "matches", similar[0].Event.ID, "score", similar[0].Score)
		return similar[0].Event, false, nil
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SourceID == "" {
		e.SourceID = sourceID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Embedding = vec
	if err := r.events.InsertEvent(ctx, e); err != nil {
		return e, false, fmt.Errorf("storing event %q: %w", e.Name, err)
	}
	metrics.Inc(metrics.EventsStored)
	return e, true, nil
}

func (r *Resolver) resolveEvents(ctx context.Context, sourceID string, events []models.Event, report *Report) error {
	for _, e := range events {
		stored, ok, err := r.StoreEvent(ctx, sourceID, e)
		if err != nil {
			return err
		}
		if ok {
			report.EventsStored++
		} else {
			report.EventsDuplicate++
		}
		report.Events = append(report.Events, stored)
	}
	return nil
}
