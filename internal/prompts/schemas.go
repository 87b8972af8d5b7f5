package prompts

import (
	"github.com/ajitpratap0/docbreak/internal/generation"
	"github.com/ajitpratap0/docbreak/internal/models"
)

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func stringList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func precisionProp(desc string) map[string]any {
	enum := make([]string, len(models.ValidDatePrecisions))
	for i, p := range models.ValidDatePrecisions {
		enum[i] = string(p)
	}
	return map[string]any{"type": "string", "enum": enum, "description": desc}
}

func arrayOf(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// PartiesSchema constrains the parties call.
func PartiesSchema() *generation.Schema {
	return &generation.Schema{
		Name:        "record_parties",
		Description: "Record the people and organizations mentioned in the summary.",
		Properties: map[string]any{
			"people": arrayOf([]string{"name"}, map[string]any{
				"name":                       stringProp("Full name of the person"),
				"aliases":                    stringList("Other names used for the person"),
				"disambiguation_description": stringProp("Role, title or affiliation that identifies the person"),
			}),
			"organizations": arrayOf([]string{"official_name"}, map[string]any{
				"official_name":   stringProp("Official name of the organization"),
				"alternate_names": stringList("Abbreviations and other names"),
				"description":     stringProp("One-line description"),
			}),
		},
		Required: []string{"people", "organizations"},
	}
}

// LocationsSchema constrains the locations call.
func LocationsSchema() *generation.Schema {
	return &generation.Schema{
		Name:        "record_locations",
		Description: "Record the locations referenced in the summary.",
		Properties: map[string]any{
			"locations": arrayOf([]string{"name"}, map[string]any{
				"name": stringProp("Name of the place"),
			}),
		},
		Required: []string{"locations"},
	}
}

// TimelineSchema constrains both the timeline and the date refinement calls.
func TimelineSchema() *generation.Schema {
	return &generation.Schema{
		Name:        "record_timeline",
		Description: "Record the dated events of the summary in chronological order.",
		Properties: map[string]any{
			"events": arrayOf(
				[]string{"name", "description", "human_readable_date", "start_date", "start_precision", "is_circa"},
				map[string]any{
					"name":                stringProp("Short event name"),
					"description":         stringProp("One-sentence description"),
					"human_readable_date": stringProp("Date phrasing as written in the text"),
					"start_date":          stringProp("ISO-8601 start instant"),
					"start_precision":     precisionProp("Precision of start_date"),
					"end_date":            stringProp("ISO-8601 end instant, omitted for single-date events"),
					"end_precision":       precisionProp("Precision of end_date"),
					"is_circa":            map[string]any{"type": "boolean", "description": "True when the date is approximate"},
				},
			),
		},
		Required: []string{"events"},
	}
}
