package index

import (
	"time"

	"github.com/govnewsbr/pipeline/internal/news"
)

// CollectionName is the search collection holding the projected dataset.
const CollectionName = "news"

// Document is the flattened, search-oriented projection of a dataset record.
// Timestamps become epoch seconds so the engine can range-filter and sort.
type Document struct {
	// ID is the engine document id and UniqueID the queryable copy of the
	// same fingerprint.
	ID             string `json:"id"`
	UniqueID       string `json:"unique_id"`
	Agency         string `json:"agency"`
	PublishedAt    int64  `json:"published_at"`
	Title          string `json:"title"`
	URL            string `json:"url"`
	Image          string `json:"image"`
	Category       string `json:"category"`
	Content        string `json:"content"`
	ExtractedAt    int64  `json:"extracted_at"`
	PublishedYear  int32  `json:"published_year"`
	PublishedMonth int32  `json:"published_month"`
	PublishedWeek  int32  `json:"published_week"`
}

// Schema is the collection definition sent on first use. published_at is the
// default sorting field so queries return newest items first.
var Schema = map[string]any{
	"name":                  CollectionName,
	"default_sorting_field": "published_at",
	"fields": []map[string]any{
		{"name": "unique_id", "type": "string"},
		{"name": "agency", "type": "string", "facet": true},
		{"name": "published_at", "type": "int64"},
		{"name": "title", "type": "string"},
		{"name": "url", "type": "string"},
		{"name": "image", "type": "string", "optional": true},
		{"name": "category", "type": "string", "facet": true, "optional": true},
		{"name": "content", "type": "string"},
		{"name": "extracted_at", "type": "int64"},
		{"name": "published_year", "type": "int32"},
		{"name": "published_month", "type": "int32"},
		{"name": "published_week", "type": "int32"},
	},
}

// PublishedWeek encodes an ISO week as isoYear*100+isoWeek, e.g. 202609, so a
// single int32 sorts and facets chronologically across year boundaries.
func PublishedWeek(t time.Time) int32 {
	year, week := t.ISOWeek()
	return int32(year*100 + week)
}

// FromRecord projects a record into a document. Records that cannot be
// fingerprinted, including undated ones, cannot be projected.
func FromRecord(r news.Record) (Document, error) {
	fp, err := news.NewFingerprint(r)
	if err != nil {
		return Document{}, err
	}
	pub := *r.PublishedAt
	return Document{
		ID:             string(fp),
		UniqueID:       string(fp),
		Agency:         r.Agency,
		PublishedAt:    pub.Unix(),
		Title:          r.Title,
		URL:            r.URL,
		Image:          r.ImageURL,
		Category:       r.Category,
		Content:        r.Content,
		ExtractedAt:    r.ExtractedAt.Unix(),
		PublishedYear:  int32(pub.Year()),
		PublishedMonth: int32(pub.Month()),
		PublishedWeek:  PublishedWeek(pub),
	}, nil
}
