package assembler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/docbreak/internal/models"
)

// instantLayouts are tried in order; coarse layouts anchor to the start of
// the period, e.g. "2019" parses to 2019-01-01T00:00:00Z.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

func (a *Assembler) parseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "present", "now":
		if a.sourceDate.IsZero() {
			return time.Time{}, fmt.Errorf("%q needs a source date", s)
		}
		return a.sourceDate, nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Rendered holds the three payloads in the persisted shape.
type Rendered struct {
	Parties   string
	Locations string
	Timeline  string
}

// Render writes r in the persisted shape. Assembling the rendered payloads
// yields a result equal to r.
func Render(r *models.BreakdownResult) (*Rendered, error) {
	p := ToPersisted(r)
	parties, err := json.Marshal(p.Parties)
	if err != nil {
		return nil, fmt.Errorf("rendering parties: %w", err)
	}
	locations, err := json.Marshal(p.Locations)
	if err != nil {
		return nil, fmt.Errorf("rendering locations: %w", err)
	}
	timeline, err := json.Marshal(p.Timeline)
	if err != nil {
		return nil, fmt.Errorf("rendering timeline: %w", err)
	}
	return &Rendered{Parties: string(parties), Locations: string(locations), Timeline: string(timeline)}, nil
}

// ToPersisted converts a result into the persisted variant.
func ToPersisted(r *models.BreakdownResult) *PersistedPayload {
	out := &PersistedPayload{
		Parties:   make([]PersistedParty, 0, len(r.Parties)),
		Locations: nonNilLocations(r.Locations),
		Timeline:  make([]PersistedEvent, 0, len(r.Timeline)),
	}
	for _, p := range r.Parties {
		pp := PersistedParty{
			ID:                        p.ID,
			Name:                      p.Name,
			Type:                      string(p.Type),
			Aliases:                   p.Aliases,
			DisambiguationDescription: p.DisambiguationDescription,
		}
		if !p.CreatedAt.IsZero() {
			pp.CreatedAt = p.CreatedAt.Format(time.RFC3339Nano)
		}
		out.Parties = append(out.Parties, pp)
	}
	for _, e := range r.Timeline {
		out.Timeline = append(out.Timeline, PersistedEvent{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			StartDate:   persistedDate(e.StartDate),
			EndDate:     persistedDate(e.EndDate),
		})
	}
	return out
}

func persistedDate(fd *models.FuzzyDate) *PersistedDate {
	if fd == nil {
		return nil
	}
	return &PersistedDate{
		DateTime:      fd.DateTime.Format(time.RFC3339Nano),
		Precision:     string(fd.Precision),
		IsCirca:       fd.IsCirca,
		HumanReadable: fd.HumanReadable,
	}
}
