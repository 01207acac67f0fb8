// Package temporal canonicalizes heterogeneous source date/time strings into
// a single timezone-aware representation.
package temporal

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Brasilia is the fixed regional timezone all gov.br publication times are
// interpreted in.
const Brasilia = "America/Sao_Paulo"

// earliestPlausible guards against parsers that quietly produce the epoch or
// other ancient dates from garbage input. gov.br predates nothing before this.
var earliestPlausible = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// Layouts with a time component, tried before the date-only ones.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15h04",
	"02/01/2006 15:04",
}

// Date-only layouts. A match synthesizes local midnight and flags the result
// as approximate.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
}

// Normalizer parses source date strings into timestamps carrying an explicit
// timezone offset. It never produces the zero/epoch timestamp: unparseable
// input comes back as nil, which callers log and count, not raise.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer builds a Normalizer pinned to the Brasilia timezone. If the
// tz database is unavailable it falls back to a fixed UTC-3 offset.
func NewNormalizer() *Normalizer {
	loc, err := time.LoadLocation(Brasilia)
	if err != nil {
		loc = time.FixedZone("-03", -3*60*60)
	}
	return &Normalizer{loc: loc}
}

// Location returns the regional timezone used for synthesized midnights.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Parse converts a raw source string into a timestamp. The second return
// value reports whether the time-of-day was synthesized (local midnight for a
// date-only input). A nil result means the string was unparseable; it is the
// caller's job to log it and move on rather than abort the batch.
func (n *Normalizer) Parse(raw string) (*time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return n.checked(t, false)
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return n.checked(n.Midnight(t), true)
		}
	}

	// Last resort for structured metadata in shapes we did not anticipate.
	t, err := dateparse.ParseIn(s, n.loc)
	if err != nil {
		return nil, false
	}
	// dateparse cannot tell a true midnight from a date-only input; treat
	// midnight as approximate, which is the conservative reading.
	approx := t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
	return n.checked(t, approx)
}

// FromDate synthesizes the timestamp for a record that only carries a date:
// local midnight in the regional timezone, flagged approximate.
func (n *Normalizer) FromDate(d time.Time) (time.Time, bool) {
	return n.Midnight(d), true
}

// Midnight returns 00:00:00 of d's calendar date in the regional timezone.
func (n *Normalizer) Midnight(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, n.loc)
}

func (n *Normalizer) checked(t time.Time, approx bool) (*time.Time, bool) {
	if t.Before(earliestPlausible) {
		return nil, false
	}
	return &t, approx
}
