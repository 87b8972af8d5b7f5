// Package party manages parties outside the breakdown pipeline: manual
// creation and deletion, and the relationships between parties.
package party

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store"
)

var (
	// ErrInvalid is returned for a malformed party or relationship.
	ErrInvalid = errors.New("invalid party request")

	// ErrExists is returned when creating a party whose name and type are
	// already in the corpus.
	ErrExists = errors.New("party already exists")
)

// Store is what the service needs from the record store.
type Store interface {
	store.PartyStore
	store.RelationshipStore
}

// Service creates, deletes and relates parties.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(st Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create adds a party. Name and type are required; a party with the same
// name and type must not exist yet.
func (s *Service) Create(ctx context.Context, p models.Party) (*models.Party, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !p.Type.IsValid() {
		return nil, fmt.Errorf("%w: type must be individual or organization, got %q", ErrInvalid, p.Type)
	}

	existing, err := s.store.FindPartyByIdentity(ctx, p.Name, p.Type)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s (%s) is %s", ErrExists, p.Name, p.Type, existing.ID)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up party %q: %w", p.Name, err)
	}

	p.ID = uuid.NewString()
	p.CreatedAt = s.now()
	if err := s.store.UpsertParty(ctx, p); err != nil {
		return nil, err
	}
	stored, err := s.store.GetParty(ctx, p.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrExists, p.Name, p.Type)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("created party", "id", stored.ID, "name", stored.Name, "type", stored.Type)
	return stored, nil
}

// Delete removes a party and every relationship it is part of.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteParty(ctx, id); err != nil {
		return err
	}
	s.logger.Info("deleted party", "id", id)
	return nil
}

// Relate links from to to. Both parties must exist and differ.
func (s *Service) Relate(ctx context.Context, from, to string, typ models.RelationshipType, status models.RelationshipStatus) (*models.PartyRelationship, error) {
	if !typ.IsValid() {
		return nil, fmt.Errorf("%w: relationship type %q", ErrInvalid, typ)
	}
	if status == "" {
		status = models.RelationshipActive
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: relationship status %q", ErrInvalid, status)
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: both party IDs are required", ErrInvalid)
	}
	if from == to {
		return nil, fmt.Errorf("%w: a party cannot be related to itself", ErrInvalid)
	}
	for _, id := range []string{from, to} {
		if _, err := s.store.GetParty(ctx, id); err != nil {
			return nil, err
		}
	}

	now := s.now()
	r := models.PartyRelationship{
		ID:          uuid.NewString(),
		FromPartyID: from,
		ToPartyID:   to,
		Type:        typ,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.UpsertRelationship(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("related parties", "id", r.ID, "from", from, "to", to, "type", typ, "status", status)
	return &r, nil
}

// SetStatus activates or deactivates a relationship.
func (s *Service) SetStatus(ctx context.Context, id string, status models.RelationshipStatus) (*models.PartyRelationship, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: relationship status %q", ErrInvalid, status)
	}
	r, err := s.store.GetRelationship(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.SetStatus(status, s.now()) {
		return r, nil
	}
	if err := s.store.UpsertRelationship(ctx, *r); err != nil {
		return nil, err
	}
	return r, nil
}

// Detail is a party with its relationships and the parties at their other
// ends, keyed by ID.
type Detail struct {
	Party          models.Party               `json:"party"`
	Relationships  []models.PartyRelationship `json:"relationships"`
	RelatedParties map[string]models.Party    `json:"relatedParties"`
}

// Get returns a party with its relationships.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	p, err := s.store.GetParty(ctx, id)
	if err != nil {
		return nil, err
	}
	rels, err := s.store.ListRelationshipsByParty(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{
		Party:          *p,
		Relationships:  rels,
		RelatedParties: make(map[string]models.Party, len(rels)),
	}
	if d.Relationships == nil {
		d.Relationships = []models.PartyRelationship{}
	}
	for _, r := range rels {
		other := r.Other(id)
		if _, ok := d.RelatedParties[other]; ok {
			continue
		}
		related, err := s.store.GetParty(ctx, other)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("relationship points at a missing party", "relationship", r.ID, "party", other)
			continue
		}
		if err != nil {
			return nil, err
		}
		d.RelatedParties[other] = *related
	}
	return d, nil
}
