package models

import "time"

// Source is a document retrieved from a URL.
type Source struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Content    string    `json:"content,omitempty"`
	HTTPCode   int       `json:"httpCode"`
	AccessedAt time.Time `json:"accessedAt"`
}

// Available reports whether the fetch produced usable content.
func (s Source) Available() bool {
	return s.HTTPCode >= 200 && s.HTTPCode < 300 && s.Content != ""
}

// MentionKind is the kind of record a source mentions.
type MentionKind string

const (
	MentionParty    MentionKind = "party"
	MentionEvent    MentionKind = "event"
	MentionLocation MentionKind = "location"
)

// Mention links a source to a party, event or location it references.
type Mention struct {
	SourceID   string      `json:"sourceId"`
	TargetID   string      `json:"targetId"`
	TargetKind MentionKind `json:"targetKind"`
	Name       string      `json:"name"`
}
