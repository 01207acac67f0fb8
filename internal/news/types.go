// Package news defines the canonical record model and the reconciliation
// primitives shared across subsystems.
package news

import (
	"errors"
	"time"
)

// Record is one article as it lives in the canonical dataset.
//
// Agency, PublishedAt and Title are identity-bearing: once a fingerprint is
// minted from them the identity is frozen. A scrape that changes any of the
// three produces a new record, never an update to the old one.
//
// PublishedDatetime and PublishedAtOld only carry values while a field
// migration is in flight (see the migrate package); outside a migration both
// are nil.
type Record struct {
	Agency            string     `json:"agency"`
	PublishedAt       *time.Time `json:"published_at"`
	PublishedDatetime *time.Time `json:"published_datetime,omitempty"`
	PublishedAtOld    *time.Time `json:"published_at_old,omitempty"`
	TimeSynthesized   bool       `json:"time_synthesized,omitempty"`
	Title             string     `json:"title"`
	URL               string     `json:"url"`
	Content           string     `json:"content"`
	Category          string     `json:"category,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	ImageURL          string     `json:"image_url,omitempty"`
	ExtractedAt       time.Time  `json:"extracted_at"`
}

// MergePolicy decides what happens when an incoming record's fingerprint is
// already present in the canonical dataset.
type MergePolicy int

const (
	// PolicySkip keeps whatever was first captured. Default.
	PolicySkip MergePolicy = iota
	// PolicyOverwrite replaces the stored record, used when a source is known
	// to publish richer data on re-visit.
	PolicyOverwrite
)

// String returns the policy name used in logs and reports.
func (p MergePolicy) String() string {
	if p == PolicyOverwrite {
		return "overwrite"
	}
	return "skip"
}

// Validation errors raised when a record cannot be fingerprinted.
var (
	ErrEmptyAgency    = errors.New("news: agency is empty")
	ErrEmptyTitle     = errors.New("news: title is empty")
	ErrNoPublishedAt  = errors.New("news: published_at is not set")
	ErrDuplicateInSet = errors.New("news: duplicate fingerprint in dataset")
)

// Validate reports whether the record carries everything its identity needs.
// Records failing validation are excluded from reconciliation and counted,
// never silently coerced.
func (r Record) Validate() error {
	if r.Agency == "" {
		return ErrEmptyAgency
	}
	if r.Title == "" {
		return ErrEmptyTitle
	}
	if r.PublishedAt == nil || r.PublishedAt.IsZero() {
		return ErrNoPublishedAt
	}
	return nil
}
