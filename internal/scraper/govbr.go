package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/clock"
	"github.com/govnewsbr/pipeline/internal/news"
	"github.com/govnewsbr/pipeline/internal/ratelimit"
	"github.com/govnewsbr/pipeline/internal/temporal"
)

// Config tunes the portal scraper.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	PageSize  int           `mapstructure:"page_size"`
	MaxPages  int           `mapstructure:"max_pages"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

const (
	defaultUserAgent = "govnews-pipeline/1.0 (+https://github.com/govnewsbr/pipeline)"
	defaultPageSize  = 30
	defaultMaxPages  = 200
)

// listingItem is one entry scraped from a listing page, before the detail
// visit fills in content.
type listingItem struct {
	title    string
	url      string
	category string
	rawDate  string
}

// GovBRSource scrapes one agency's news section on the federal portal. The
// portal paginates listings with a b_start:int offset parameter and prints
// dates as dd/mm/yyyy, with HHhMM times on detail pages.
type GovBRSource struct {
	name       string
	baseURL    string
	cfg        Config
	normalizer *temporal.Normalizer
	limiter    *ratelimit.Limiter
	clock      clock.Clock
	logger     *zap.Logger
}

// NewGovBRSource builds a source for one agency.
func NewGovBRSource(name, baseURL string, cfg Config, norm *temporal.Normalizer, lim *ratelimit.Limiter, clk clock.Clock, logger *zap.Logger) (*GovBRSource, error) {
	if name == "" {
		return nil, fmt.Errorf("agency name is required")
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid base URL for agency %q: %q", name, baseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &GovBRSource{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cfg:        cfg,
		normalizer: norm,
		limiter:    lim,
		clock:      clk,
		logger:     logger.With(zap.String("agency", name)),
	}, nil
}

// Name returns the agency code.
func (s *GovBRSource) Name() string { return s.name }

// Scrape walks listing pages newest-first, stopping once a page falls
// entirely before the window, and visits each in-window item's detail page.
// Items whose date cannot be parsed are returned with a nil publication time
// so the caller can count them as validation failures instead of losing them
// silently.
func (s *GovBRSource) Scrape(ctx context.Context, window Window) ([]news.Record, error) {
	var records []news.Record

	for page := 0; page < s.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		offset := page * s.cfg.PageSize
		items, err := s.fetchListing(ctx, offset)
		if err != nil {
			return records, fmt.Errorf("listing page at offset %d: %w", offset, err)
		}
		if len(items) == 0 {
			break
		}

		pastWindow := 0
		for _, item := range items {
			published, approx := s.normalizer.Parse(item.rawDate)
			if published != nil && !window.Contains(*published) {
				if published.Before(window.MinDate) {
					pastWindow++
				}
				continue
			}

			rec, err := s.fetchDetail(ctx, item, published, approx)
			if err != nil {
				if ctx.Err() != nil {
					return records, ctx.Err()
				}
				s.logger.Warn("Detail page failed, keeping listing data",
					zap.String("url", item.url), zap.Error(err))
				rec = s.recordFromListing(item, published)
				rec.TimeSynthesized = published != nil && approx
			}
			records = append(records, rec)
		}

		// Listings are newest-first. Once every item on a page predates the
		// window there is nothing further back worth fetching.
		if pastWindow == len(items) {
			break
		}
	}

	s.logger.Info("Agency scrape finished", zap.Int("records", len(records)))
	return records, nil
}

func (s *GovBRSource) host() string {
	u, err := url.Parse(s.baseURL)
	if err != nil || u.Host == "" {
		return s.name
	}
	return u.Host
}

func (s *GovBRSource) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.cfg.UserAgent),
		colly.Async(false),
	)
	if s.cfg.Timeout > 0 {
		c.SetRequestTimeout(s.cfg.Timeout)
	}
	return c
}

func (s *GovBRSource) fetchListing(ctx context.Context, offset int) ([]listingItem, error) {
	if err := s.limiter.Wait(ctx, s.host()); err != nil {
		return nil, err
	}

	var items []listingItem
	c := s.newCollector()
	c.OnHTML("article.tileItem", func(e *colly.HTMLElement) {
		item := listingItem{
			title:    collapseSpace(e.ChildText("h2.tileHeadline a")),
			url:      e.Request.AbsoluteURL(e.ChildAttr("h2.tileHeadline a", "href")),
			category: collapseSpace(e.ChildText("div.subtitle")),
			rawDate:  extractListingDate(e.ChildText("span.documentByLine")),
		}
		if item.title == "" || item.url == "" {
			return
		}
		items = append(items, item)
	})

	var fetchErr error
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	target := fmt.Sprintf("%s?b_start:int=%d", s.baseURL, offset)
	if err := c.Visit(target); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return items, nil
}

func (s *GovBRSource) fetchDetail(ctx context.Context, item listingItem, listingDate *time.Time, approx bool) (news.Record, error) {
	if err := s.limiter.Wait(ctx, s.host()); err != nil {
		return news.Record{}, err
	}

	rec := s.recordFromListing(item, listingDate)
	rec.TimeSynthesized = approx

	c := s.newCollector()
	c.OnHTML("div#content", func(e *colly.HTMLElement) {
		if body := collapseSpace(e.ChildText("div#parent-fieldname-text")); body != "" {
			rec.Content = body
		}
		// Detail pages carry the precise publication time the listing lacks.
		if raw := collapseSpace(e.ChildText("span.documentPublished span.value")); raw != "" {
			if ts, approx := s.normalizer.Parse(raw); ts != nil {
				rec.PublishedAt = ts
				rec.TimeSynthesized = approx
			}
		}
		if cat := collapseSpace(e.ChildText("div.documentDescription")); cat != "" && rec.Category == "" {
			rec.Category = cat
		}
		e.ForEach("div.keywords a", func(_ int, tag *colly.HTMLElement) {
			if t := collapseSpace(tag.Text); t != "" {
				rec.Tags = append(rec.Tags, t)
			}
		})
	})
	c.OnHTML(`meta[property="og:image"]`, func(e *colly.HTMLElement) {
		rec.ImageURL = e.Request.AbsoluteURL(e.Attr("content"))
	})

	var fetchErr error
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(item.url); err != nil {
		return news.Record{}, err
	}
	if fetchErr != nil {
		return news.Record{}, fetchErr
	}
	return rec, nil
}

func (s *GovBRSource) recordFromListing(item listingItem, published *time.Time) news.Record {
	return news.Record{
		Agency:      s.name,
		PublishedAt: published,
		Title:       item.title,
		URL:         item.url,
		Category:    item.category,
		ExtractedAt: s.clock.Now(),
	}
}
