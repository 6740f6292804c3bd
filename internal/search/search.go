// Package search indexes tracked entities (sheet rows) for full-text lookup.
package search

import "strings"

// EntityRecord is the data we index for one sheet row.
type EntityRecord struct {
	ID       string            `json:"id"`
	Table    string            `json:"table"`
	EntityID string            `json:"entityId"`
	Text     string            `json:"text"`
	Fields   map[string]string `json:"fields"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	Table    string            `json:"table"`
	EntityID string            `json:"entityId"`
	Snippet  string            `json:"snippet"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Table  string // empty = all tables
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocID builds a Meilisearch-safe document ID from a table and entity ID.
// Meilisearch only accepts alphanumerics, hyphens and underscores.
func DocID(table, entityID string) string {
	return sanitizeID(table) + "__" + sanitizeID(entityID)
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
