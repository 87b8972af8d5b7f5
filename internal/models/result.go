package models

// Location is an unstructured place record. Only "name" is guaranteed.
type Location map[string]any

// Name returns the location's name, or "" when absent.
func (l Location) Name() string {
	if s, ok := l["name"].(string); ok {
		return s
	}
	return ""
}

// BreakdownResult is the normalized outcome of a breakdown.
type BreakdownResult struct {
	Parties   []Party    `json:"parties"`
	Locations []Location `json:"locations"`
	Timeline  []Event    `json:"timeline"`
}
