package models

import "time"

// PartyType classifies a party as a person or an organization.
type PartyType string

const (
	PartyTypeIndividual   PartyType = "individual"
	PartyTypeOrganization PartyType = "organization"
)

// ValidPartyTypes is the set of all valid party types.
var ValidPartyTypes = []PartyType{
	PartyTypeIndividual,
	PartyTypeOrganization,
}

// IsValid returns true if the party type is recognized.
func (pt PartyType) IsValid() bool {
	for i := range ValidPartyTypes {
		if pt == ValidPartyTypes[i] {
			return true
		}
	}
	return false
}

// Party is a person or organization mentioned by a source.
// Two parties are the same party when both Name and Type match exactly.
type Party struct {
	ID                        string    `json:"id"`
	Name                      string    `json:"name"`
	Type                      PartyType `json:"type"`
	Aliases                   []string  `json:"aliases,omitempty"`
	DisambiguationDescription string    `json:"disambiguationDescription,omitempty"`
	CreatedAt                 time.Time `json:"createdAt"`
}

// Key returns the identity key used for cross-document merging.
func (p Party) Key() PartyKey {
	return PartyKey{Name: p.Name, Type: p.Type}
}

// PartyKey is the (name, type) identity of a party.
type PartyKey struct {
	Name string
	Type PartyType
}

// MergeFrom folds other into p: aliases are unioned preserving first-seen
// order and the disambiguation description is only filled when empty.
// It reports whether p changed.
func (p *Party) MergeFrom(other Party) bool {
	changed := false
	seen := make(map[string]struct{}, len(p.Aliases))
	for _, a := range p.Aliases {
		seen[a] = struct{}{}
	}
	for _, a := range other.Aliases {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		p.Aliases = append(p.Aliases, a)
		changed = true
	}
	if p.DisambiguationDescription == "" && other.DisambiguationDescription != "" {
		p.DisambiguationDescription = other.DisambiguationDescription
		changed = true
	}
	return changed
}
