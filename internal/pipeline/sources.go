package pipeline

import (
	"context"

	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

// FeedFetcher retrieves and decodes the CHART incident feed.
type FeedFetcher interface {
	FetchIncidents(ctx context.Context) (domain.ChartResponse, error)
}

// ChartSource yields CHART feed records for a single county.
type ChartSource struct {
	feed   FeedFetcher
	county string
}

// NewChartSource creates a ChartSource keeping records whose county matches county.
func NewChartSource(feed FeedFetcher, county string) *ChartSource {
	return &ChartSource{feed: feed, county: county}
}

func (s *ChartSource) Name() string { return domain.SourceChart }

// Fetch validates the feed envelope and drops records outside the county.
func (s *ChartSource) Fetch(ctx context.Context) ([]domain.RawIncident, error) {
	resp, err := s.feed.FetchIncidents(ctx)
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}

	raws := make([]domain.RawIncident, 0, len(resp.Data))
	for _, rec := range resp.Data {
		if rec.InCounty(s.county) {
			raws = append(raws, rec)
		}
	}
	return raws, nil
}

// PageScraper extracts incident cards from the rendered traffic page.
type PageScraper interface {
	Scrape(ctx context.Context) ([]domain.BrowserRecord, error)
}

// BrowserSource yields WTOP records scraped from a headless browser page.
type BrowserSource struct {
	scraper PageScraper
}

// NewBrowserSource creates a BrowserSource backed by scraper.
func NewBrowserSource(scraper PageScraper) *BrowserSource {
	return &BrowserSource{scraper: scraper}
}

func (s *BrowserSource) Name() string { return domain.SourceWTOP }

func (s *BrowserSource) Fetch(ctx context.Context) ([]domain.RawIncident, error) {
	recs, err := s.scraper.Scrape(ctx)
	if err != nil {
		return nil, err
	}
	raws := make([]domain.RawIncident, len(recs))
	for i, rec := range recs {
		raws[i] = rec
	}
	return raws, nil
}
