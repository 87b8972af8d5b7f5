package assembler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Payload names used in errors and logs.
const (
	PayloadParties   = "parties"
	PayloadLocations = "locations"
	PayloadTimeline  = "timeline"
)

// ParseError names the payload that could not be parsed.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s payload: %v", e.Payload, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	openingFence = regexp.MustCompile("(?i)^```(yaml|json)?[ \t]*\r?\n?")
	closingFence = regexp.MustCompile("\r?\n?```$")
)

// StripFences removes a leading ```yaml fence (any case) and a trailing ```
// fence from model output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = openingFence.ReplaceAllString(s, "")
	s = closingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// decode parses a payload as JSON when it is valid JSON and as YAML otherwise.
func decode(name, payload string, out any) error {
	text := StripFences(payload)
	if text == "" {
		return &ParseError{Payload: name, Err: fmt.Errorf("empty payload")}
	}
	var err error
	if json.Valid([]byte(text)) {
		err = json.Unmarshal([]byte(text), out)
	} else {
		err = yaml.Unmarshal([]byte(text), out)
	}
	if err != nil {
		return &ParseError{Payload: name, Err: err}
	}
	return nil
}

// hasAnyKey reports whether payload decodes to a mapping containing one of keys.
func hasAnyKey(payload string, keys ...string) bool {
	var v any
	if err := decode("", payload, &v); err != nil {
		return false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// IsGenerationShape reports whether the payloads use the generation-time
// shape, i.e. parties carries "people" or "organizations" or the timeline
// carries "events".
func IsGenerationShape(parties, timeline string) bool {
	return hasAnyKey(parties, "people", "organizations") || hasAnyKey(timeline, "events")
}
