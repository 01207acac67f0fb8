package scraper

import (
	"regexp"
	"strings"
)

var spaceRun = regexp.MustCompile(`\s+`)

// collapseSpace trims and collapses whitespace runs. Portal markup is full of
// stray newlines and non-breaking spaces inside text nodes.
func collapseSpace(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// listingDate matches the dd/mm/yyyy date portals print in listing summaries,
// optionally followed by a HHhMM time.
var listingDate = regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4})(?:\s+(\d{2}h\d{2}))?\b`)

// extractListingDate pulls the first date (and time, when present) out of a
// listing item's free text. Returns "" when no date is found.
func extractListingDate(text string) string {
	m := listingDate.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[1] + " " + m[2]
	}
	return m[1]
}
