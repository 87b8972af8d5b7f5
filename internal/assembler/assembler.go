// Package assembler turns the three structured payloads of a breakdown into
// a normalized BreakdownResult. Payloads arrive either straight from the
// model (RawGenerationPayload) or from storage (PersistedPayload).
package assembler

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/docbreak/internal/models"
)

// Payload is one of RawGenerationPayload or PersistedPayload.
type Payload interface {
	toResult(a *Assembler) (*models.BreakdownResult, error)
}

// RawGenerationPayload is the snake_case shape produced by generation calls.
type RawGenerationPayload struct {
	Parties   RawParties
	Locations []models.Location
	Events    []RawEvent
}

// RawParties is the parties schema output.
type RawParties struct {
	People        []RawPerson       `json:"people" yaml:"people"`
	Organizations []RawOrganization `json:"organizations" yaml:"organizations"`
}

// RawPerson is a person entry of the parties schema.
type RawPerson struct {
	Name                      string   `json:"name" yaml:"name"`
	Aliases                   []string `json:"aliases,omitempty" yaml:"aliases"`
	DisambiguationDescription string   `json:"disambiguation_description,omitempty" yaml:"disambiguation_description"`
}

// RawOrganization is an organization entry of the parties schema.
type RawOrganization struct {
	OfficialName   string   `json:"official_name" yaml:"official_name"`
	AlternateNames []string `json:"alternate_names,omitempty" yaml:"alternate_names"`
	Description    string   `json:"description,omitempty" yaml:"description"`
}

// RawEvent is an event entry of the timeline schema.
type RawEvent struct {
	Name              string `json:"name" yaml:"name"`
	Description       string `json:"description" yaml:"description"`
	HumanReadableDate string `json:"human_readable_date,omitempty" yaml:"human_readable_date"`
	StartDate         string `json:"start_date,omitempty" yaml:"start_date"`
	StartPrecision    string `json:"start_precision,omitempty" yaml:"start_precision"`
	EndDate           string `json:"end_date,omitempty" yaml:"end_date"`
	EndPrecision      string `json:"end_precision,omitempty" yaml:"end_precision"`
	IsCirca           bool   `json:"is_circa" yaml:"is_circa"`
}

type rawTimeline struct {
	Events []RawEvent `json:"events" yaml:"events"`
}

type rawLocations struct {
	Locations []models.Location `json:"locations" yaml:"locations"`
}

// PersistedPayload is the camelCase shape written by Render.
type PersistedPayload struct {
	Parties   []PersistedParty
	Locations []models.Location
	Timeline  []PersistedEvent
}

// PersistedParty is a stored party.
type PersistedParty struct {
	ID                        string   `json:"id" yaml:"id"`
	Name                      string   `json:"name" yaml:"name"`
	Type                      string   `json:"type" yaml:"type"`
	Aliases                   []string `json:"aliases,omitempty" yaml:"aliases"`
	DisambiguationDescription string   `json:"disambiguationDescription,omitempty" yaml:"disambiguationDescription"`
	CreatedAt                 string   `json:"createdAt,omitempty" yaml:"createdAt"`
}

// PersistedDate is a stored FuzzyDate.
type PersistedDate struct {
	DateTime      string `json:"dateTime" yaml:"dateTime"`
	Precision     string `json:"precision" yaml:"precision"`
	IsCirca       bool   `json:"isCirca" yaml:"isCirca"`
	HumanReadable string `json:"humanReadable,omitempty" yaml:"humanReadable"`
}

// PersistedEvent is a stored event.
type PersistedEvent struct {
	ID          string         `json:"id,omitempty" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	StartDate   *PersistedDate `json:"startDate" yaml:"startDate"`
	EndDate     *PersistedDate `json:"endDate,omitempty" yaml:"endDate"`
}

// Assembler converts payloads into results.
type Assembler struct {
	sourceDate time.Time
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSourceDate lets an end date of "present" or "now" resolve to t.
func WithSourceDate(t time.Time) Option {
	return func(a *Assembler) { a.sourceDate = t }
}

// WithLogger sets the logger used to report repaired events.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble parses the three payloads with default options.
func Assemble(parties, locations, timeline string) (*models.BreakdownResult, error) {
	return New().Assemble(parties, locations, timeline)
}

// Assemble selects the payload variant by key presence and converts it.
func (a *Assembler) Assemble(parties, locations, timeline string) (*models.BreakdownResult, error) {
	p, err := Parse(parties, locations, timeline)
	if err != nil {
		return nil, err
	}
	return p.toResult(a)
}

// Convert turns an already-parsed payload into a result.
func (a *Assembler) Convert(p Payload) (*models.BreakdownResult, error) {
	return p.toResult(a)
}

// Parse decodes the payloads into the variant selected by IsGenerationShape.
func Parse(parties, locations, timeline string) (Payload, error) {
	if IsGenerationShape(parties, timeline) {
		return parseRaw(parties, locations, timeline)
	}
	return parsePersisted(parties, locations, timeline)
}

func parseRaw(parties, locations, timeline string) (*RawGenerationPayload, error) {
	out := &RawGenerationPayload{}
	if err := decode(PayloadParties, parties, &out.Parties); err != nil {
		return nil, err
	}
	locs, err := parseLocations(locations)
	if err != nil {
		return nil, err
	}
	out.Locations = locs
	var tl rawTimeline
	if err := decode(PayloadTimeline, timeline, &tl); err != nil {
		return nil, err
	}
	out.Events = tl.Events
	return out, nil
}

func parsePersisted(parties, locations, timeline string) (*PersistedPayload, error) {
	out := &PersistedPayload{}
	if err := decode(PayloadParties, parties, &out.Parties); err != nil {
		return nil, err
	}
	locs, err := parseLocations(locations)
	if err != nil {
		return nil, err
	}
	out.Locations = locs
	if err := decode(PayloadTimeline, timeline, &out.Timeline); err != nil {
		return nil, err
	}
	return out, nil
}

// parseLocations accepts {"locations": [...]} as well as a bare list.
func parseLocations(payload string) ([]models.Location, error) {
	if hasAnyKey(payload, "locations") {
		var wrapped rawLocations
		if err := decode(PayloadLocations, payload, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Locations, nil
	}
	var list []models.Location
	if err := decode(PayloadLocations, payload, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *RawGenerationPayload) toResult(a *Assembler) (*models.BreakdownResult, error) {
	now := a.now()
	result := &models.BreakdownResult{
		Parties:   make([]models.Party, 0, len(p.Parties.People)+len(p.Parties.Organizations)),
		Locations: nonNilLocations(p.Locations),
		Timeline:  make([]models.Event, 0, len(p.Events)),
	}

	for i, person := range p.Parties.People {
		if strings.TrimSpace(person.Name) == "" {
			return nil, &ParseError{Payload: PayloadParties, Err: fmt.Errorf("person %d has no name", i)}
		}
		result.Parties = append(result.Parties, models.Party{
			ID:                        uuid.NewString(),
			Name:                      person.Name,
			Type:                      models.PartyTypeIndividual,
			Aliases:                   person.Aliases,
			DisambiguationDescription: person.DisambiguationDescription,
			CreatedAt:                 now,
		})
	}
	for i, org := range p.Parties.Organizations {
		if strings.TrimSpace(org.OfficialName) == "" {
			return nil, &ParseError{Payload: PayloadParties, Err: fmt.Errorf("organization %d has no official_name", i)}
		}
		result.Parties = append(result.Parties, models.Party{
			ID:                        uuid.NewString(),
			Name:                      org.OfficialName,
			Type:                      models.PartyTypeOrganization,
			Aliases:                   org.AlternateNames,
			DisambiguationDescription: org.Description,
			CreatedAt:                 now,
		})
	}

	for i, raw := range p.Events {
		ev, err := a.rawEvent(raw)
		if err != nil {
			return nil, &ParseError{Payload: PayloadTimeline, Err: fmt.Errorf("event %d (%q): %w", i, raw.Name, err)}
		}
		result.Timeline = append(result.Timeline, ev)
	}
	return result, nil
}

func (a *Assembler) rawEvent(raw RawEvent) (models.Event, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return models.Event{}, fmt.Errorf("missing name")
	}
	ev := models.Event{Name: raw.Name, Description: raw.Description}

	if strings.TrimSpace(raw.StartDate) != "" {
		start, err := a.fuzzyDate(raw.StartDate, raw.StartPrecision, raw.IsCirca, raw.HumanReadableDate)
		if err != nil {
			return models.Event{}, fmt.Errorf("start_date: %w", err)
		}
		ev.StartDate = start
	}
	if strings.TrimSpace(raw.EndDate) != "" {
		end, err := a.fuzzyDate(raw.EndDate, raw.EndPrecision, raw.IsCirca, raw.HumanReadableDate)
		if err != nil {
			return models.Event{}, fmt.Errorf("end_date: %w", err)
		}
		ev.EndDate = end
	}
	return a.normalizeEvent(ev), nil
}

func (a *Assembler) fuzzyDate(value, precision string, circa bool, human string) (*models.FuzzyDate, error) {
	instant, err := a.parseInstant(value)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(precision) == "" {
		precision = string(models.PrecisionYear)
	}
	dp, err := models.ParseDatePrecision(precision)
	if err != nil {
		return nil, err
	}
	return &models.FuzzyDate{DateTime: instant, Precision: dp, IsCirca: circa, HumanReadable: human}, nil
}

func (p *PersistedPayload) toResult(a *Assembler) (*models.BreakdownResult, error) {
	result := &models.BreakdownResult{
		Parties:   make([]models.Party, 0, len(p.Parties)),
		Locations: nonNilLocations(p.Locations),
		Timeline:  make([]models.Event, 0, len(p.Timeline)),
	}

	for i, pp := range p.Parties {
		pt := models.PartyType(strings.ToLower(pp.Type))
		if !pt.IsValid() {
			return nil, &ParseError{Payload: PayloadParties, Err: fmt.Errorf("party %d (%q): invalid type %q", i, pp.Name, pp.Type)}
		}
		party := models.Party{
			ID:                        pp.ID,
			Name:                      pp.Name,
			Type:                      pt,
			Aliases:                   pp.Aliases,
			DisambiguationDescription: pp.DisambiguationDescription,
		}
		if pp.CreatedAt != "" {
			ts, err := time.Parse(time.RFC3339Nano, pp.CreatedAt)
			if err != nil {
				return nil, &ParseError{Payload: PayloadParties, Err: fmt.Errorf("party %d (%q): createdAt: %w", i, pp.Name, err)}
			}
			party.CreatedAt = ts
		}
		result.Parties = append(result.Parties, party)
	}

	for i, pe := range p.Timeline {
		ev := models.Event{ID: pe.ID, Name: pe.Name, Description: pe.Description}
		var err error
		if pe.StartDate != nil {
			if ev.StartDate, err = a.persistedDate(*pe.StartDate); err != nil {
				return nil, &ParseError{Payload: PayloadTimeline, Err: fmt.Errorf("event %d (%q): startDate: %w", i, pe.Name, err)}
			}
		}
		if pe.EndDate != nil {
			if ev.EndDate, err = a.persistedDate(*pe.EndDate); err != nil {
				return nil, &ParseError{Payload: PayloadTimeline, Err: fmt.Errorf("event %d (%q): endDate: %w", i, pe.Name, err)}
			}
		}
		result.Timeline = append(result.Timeline, a.normalizeEvent(ev))
	}
	return result, nil
}

func (a *Assembler) persistedDate(pd PersistedDate) (*models.FuzzyDate, error) {
	return a.fuzzyDate(pd.DateTime, pd.Precision, pd.IsCirca, pd.HumanReadable)
}

// normalizeEvent drops an end date equal to the start date. An end date
// before the start date is dropped too, with a warning; the event keeps
// its start.
func (a *Assembler) normalizeEvent(ev models.Event) models.Event {
	if ev.StartDate == nil || ev.EndDate == nil {
		return ev
	}
	if ev.EndDate.DateTime.Equal(ev.StartDate.DateTime) {
		ev.EndDate = nil
		return ev
	}
	if err := ev.Validate(); err != nil {
		a.logger.Warn("assembler: dropping end date", "event", ev.Name, "error", err)
		ev.EndDate = nil
	}
	return ev
}

func nonNilLocations(locs []models.Location) []models.Location {
	if locs == nil {
		return []models.Location{}
	}
	return locs
}
