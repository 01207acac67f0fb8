// Package scraper collects news items from government agency portals.
package scraper

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/govnewsbr/pipeline/internal/news"
)

// Window bounds a scrape by publication date, both ends inclusive. A zero
// MaxDate means open-ended.
type Window struct {
	MinDate time.Time
	MaxDate time.Time
}

// Contains reports whether a publication date falls inside the window.
// Only the calendar date matters.
func (w Window) Contains(t time.Time) bool {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	min := time.Date(w.MinDate.Year(), w.MinDate.Month(), w.MinDate.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(min) {
		return false
	}
	if w.MaxDate.IsZero() {
		return true
	}
	max := time.Date(w.MaxDate.Year(), w.MaxDate.Month(), w.MaxDate.Day(), 0, 0, 0, 0, time.UTC)
	return !d.After(max)
}

// Source scrapes one agency's portal. Implementations must be safe to run
// concurrently with other sources but need not be internally concurrent.
type Source interface {
	Name() string
	Scrape(ctx context.Context, window Window) ([]news.Record, error)
}

// Registry maps agency codes to their portal base URLs.
type Registry struct {
	Agencies map[string]string `yaml:"agencies"`
}

// LoadRegistry reads the agency registry from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agency registry: %w", err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse agency registry: %w", err)
	}
	if len(reg.Agencies) == 0 {
		return nil, fmt.Errorf("agency registry %s lists no agencies", path)
	}
	return &reg, nil
}

// Names returns the agency codes in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Agencies))
	for name := range r.Agencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter keeps only the named agencies. Unknown names are an error so typos
// fail loudly instead of silently scraping nothing.
func (r *Registry) Filter(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	filtered := &Registry{Agencies: make(map[string]string, len(names))}
	for _, name := range names {
		url, ok := r.Agencies[name]
		if !ok {
			return nil, fmt.Errorf("unknown agency %q", name)
		}
		filtered.Agencies[name] = url
	}
	return filtered, nil
}
