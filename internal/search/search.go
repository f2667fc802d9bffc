// Package search indexes published confessions for the public search box.
package search

import (
	"time"

	"confessional/api/internal/store"
	"confessional/api/internal/tag"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string    `json:"id"`
	PublicID    *int      `json:"publicId,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	Snippet     string    `json:"snippet"`
	PostRef     string    `json:"postRef,omitempty"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Source string // empty = both sources
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PublishedRecord is the data we index for a published confession.
type PublishedRecord struct {
	ID          string `json:"id"`
	PublicID    *int   `json:"publicId,omitempty"`
	Tag         string `json:"tag"`
	Content     string `json:"content"`
	PostRef     string `json:"postRef"`
	Source      string `json:"source"`
	PublishedAt int64  `json:"publishedAt"`
}

// RecordFromProcessed converts a ledger row. Only approved rows are
// searchable; ok is false for anything else.
func RecordFromProcessed(prefix string, rec store.ProcessedRecord) (PublishedRecord, bool) {
	if rec.Outcome != store.OutcomeApproved {
		return PublishedRecord{}, false
	}
	out := PublishedRecord{
		ID:          rec.ItemID,
		PublicID:    rec.PublicID,
		Content:     rec.Content,
		Source:      rec.Source,
		PublishedAt: rec.ProcessedAt.Unix(),
	}
	if rec.PublicID != nil {
		out.Tag = tag.Format(prefix, *rec.PublicID)
	}
	if rec.PostRef != nil {
		out.PostRef = *rec.PostRef
	}
	return out, true
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return min(limit, 100)
}
