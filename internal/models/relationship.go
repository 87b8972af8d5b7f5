package models

import (
	"fmt"
	"strings"
	"time"
)

// RelationshipType classifies a link between two parties.
type RelationshipType string

const (
	RelationshipEmployment  RelationshipType = "employment"
	RelationshipMembership  RelationshipType = "membership"
	RelationshipAssociation RelationshipType = "association"
)

// ValidRelationshipTypes is the set of all valid relationship types.
var ValidRelationshipTypes = []RelationshipType{
	RelationshipEmployment,
	RelationshipMembership,
	RelationshipAssociation,
}

// IsValid returns true if the relationship type is recognized.
func (t RelationshipType) IsValid() bool {
	for i := range ValidRelationshipTypes {
		if t == ValidRelationshipTypes[i] {
			return true
		}
	}
	return false
}

// ParseRelationshipType lowercases s and validates it.
func ParseRelationshipType(s string) (RelationshipType, error) {
	t := RelationshipType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid relationship type %q: must be employment, membership or association", s)
	}
	return t, nil
}

// RelationshipStatus is whether a relationship currently holds.
type RelationshipStatus string

const (
	RelationshipActive   RelationshipStatus = "active"
	RelationshipInactive RelationshipStatus = "inactive"
)

// IsValid returns true if the status is recognized.
func (s RelationshipStatus) IsValid() bool {
	return s == RelationshipActive || s == RelationshipInactive
}

// ParseRelationshipStatus lowercases s and validates it. Empty means active.
func ParseRelationshipStatus(s string) (RelationshipStatus, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RelationshipActive, nil
	}
	st := RelationshipStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid relationship status %q: must be active or inactive", s)
	}
	return st, nil
}

// PartyRelationship is a directed link from one party to another, e.g. an
// individual employed by an organization.
type PartyRelationship struct {
	ID          string             `json:"id"`
	FromPartyID string             `json:"fromPartyId"`
	ToPartyID   string             `json:"toPartyId"`
	Type        RelationshipType   `json:"type"`
	Status      RelationshipStatus `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Involves reports whether partyID is either end of r.
func (r PartyRelationship) Involves(partyID string) bool {
	return r.FromPartyID == partyID || r.ToPartyID == partyID
}

// Other returns the end of r that is not partyID.
func (r PartyRelationship) Other(partyID string) string {
	if r.FromPartyID == partyID {
		return r.ToPartyID
	}
	return r.FromPartyID
}

// SetStatus changes the status and bumps UpdatedAt. It reports whether the
// status changed.
func (r *PartyRelationship) SetStatus(status RelationshipStatus, now time.Time) bool {
	if r.Status == status {
		return false
	}
	r.Status = status
	r.UpdatedAt = now
	return true
}
