// Package prompts holds the fixed instruction templates and output schemas
// used by every generation call of a breakdown.
package prompts

import (
	"strings"
	"time"
)

// System prompts.
const (
	ChunkSummarySystem = `You summarize one chunk of a longer document.

Write a dense, factual summary of the chunk under "## Current Chunk". Keep every named person, organization, place, date and event, including relative date phrasing exactly as written ("last year", "in the spring"). Do not add facts that are not in the chunk. Output only the summary.`

	MasterSummarySystem = `You merge partial summaries of one document into a single master summary.

The input is a sequence of chunk summaries in document order. Combine them into one coherent summary that preserves every named person, organization, place, date and event. Remove repetition, keep chronology, and never invent facts. Output only the master summary.`

	GrowingSummarySystem = `You maintain a running summary of a long document that is read one chunk at a time.

The input has a "## Current Chunk" section and a "## Running Summary" section (empty for the first chunk). Return the updated running summary: integrate the new chunk into the existing summary, keep every named person, organization, place, date and event, preserve relative date phrasing as written, and never drop facts from the running summary. Output only the updated summary.`

	PartiesSystem = `You extract the parties mentioned in a document summary.

List every individual person under "people" with their full name, any aliases or alternate spellings used in the text, and a short disambiguation description (role, title or affiliation). List every organization under "organizations" with its official name, any alternate names or abbreviations, and a one-line description. Do not list the same party twice.`

	LocationsSystem = `You extract the locations referenced in a document summary.

List every distinct geographic place (cities, countries, regions, buildings, addresses) under "locations" with its name. Do not list the same place twice.`

	TimelineSystem = `You build a chronological timeline of the events described in a document summary.

For every event give a short name, a one-sentence description, the date phrasing used in the text as human_readable_date, and an ISO-8601 start_date with its start_precision (one of year, month, day, hour, minute, second, decade, season, quarter). Coarse precisions use a conventional anchor instant, e.g. January 1st for a year. Set is_circa when the text says the date is approximate.

The document was retrieved at the instant given in <SOURCE_DATE>. Resolve relative phrasing ("last year", "two weeks ago", "recently") against it.

Date rules:
1. An event with a single datetime is recorded with start_date only.
2. start_date must be chronologically before end_date.
3. If start and end coincide, omit end_date.
4. An end date of "present" or "now" resolves to the <SOURCE_DATE> instant.`

	DateRefinementSystem = `You improve the dates of an existing event timeline.

The input is a timeline in JSON followed by the document retrieval instant in <SOURCE_DATE>. For each event whose start_date, start_precision or human_readable_date is imprecise, tighten it using well-established general knowledge. If you do not confidently know a more specific date, leave the existing values exactly as they are; never guess. Keep every event, its name and description unchanged, and apply the same date rules:
1. An event with a single datetime is recorded with start_date only.
2. start_date must be chronologically before end_date.
3. If start and end coincide, omit end_date.
4. An end date of "present" or "now" resolves to the <SOURCE_DATE> instant.`
)

// ChunkInput is the user input for one per-chunk summary call.
func ChunkInput(chunk string) string {
	return "## Current Chunk\n\n" + chunk
}

// MasterInput joins chunk summaries for the synthesis call.
func MasterInput(chunkSummaries []string) string {
	return strings.Join(chunkSummaries, "\n\n")
}

// GrowingInput is the user input for one growing-summary call.
func GrowingInput(chunk, running string) string {
	return "## Current Chunk\n\n" + chunk + "\n\n## Running Summary\n\n" + running
}

// SourceDate renders the retrieval-date anchor.
func SourceDate(t time.Time) string {
	return "<SOURCE_DATE>" + t.Format(time.RFC3339) + "</SOURCE_DATE>"
}

// WithSourceDate appends the anchor to text after a blank line.
func WithSourceDate(text string, t time.Time) string {
	return text + "\n\n" + SourceDate(t)
}
