package browser

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/couchcryptid/traffic-incident-ingest/internal/config"
	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

// pageOpener opens a browser tab. *Browser implements it.
type pageOpener interface {
	NewPage() (context.Context, context.CancelFunc, error)
}

// Scraper extracts incident cards from the WTOP traffic page.
type Scraper struct {
	pages        pageOpener
	url          string
	selectors    config.Selectors
	navTimeout   time.Duration
	readyTimeout time.Duration
	logger       *slog.Logger
}

// NewScraper creates a Scraper that opens its tabs on b.
func NewScraper(b *Browser, cfg config.WTOPConfig, logger *slog.Logger) *Scraper {
	return newScraper(b, cfg, logger)
}

func newScraper(pages pageOpener, cfg config.WTOPConfig, logger *slog.Logger) *Scraper {
	return &Scraper{
		pages:        pages,
		url:          cfg.URL,
		selectors:    cfg.Selectors,
		navTimeout:   cfg.NavTimeout,
		readyTimeout: cfg.ReadyTimeout,
		logger:       logger,
	}
}

// Scrape loads the page in a new tab and returns one record per incident card.
// Navigation and readiness are bounded by their own timeouts; either expiring
// fails the cycle but leaves the shared browser running. The tab is always closed.
func (s *Scraper) Scrape(ctx context.Context) ([]domain.BrowserRecord, error) {
	script, err := extractScript(s.selectors)
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceWTOP, Op: "build script", Err: err}
	}

	pageCtx, cancel, err := s.pages.NewPage()
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceWTOP, Op: "open page", Err: err}
	}
	closePage := sync.OnceFunc(cancel)
	defer closePage()

	// Abandon the tab if the cycle is cancelled.
	stop := context.AfterFunc(ctx, closePage)
	defer stop()

	chromedp.ListenTarget(pageCtx, s.interceptRequests(pageCtx))
	if err := chromedp.Run(pageCtx, fetch.Enable()); err != nil {
		return nil, &domain.FetchError{Source: domain.SourceWTOP, Op: "enable interception", Err: err}
	}

	navCtx, navCancel := context.WithTimeout(pageCtx, s.navTimeout)
	err = chromedp.Run(navCtx, chromedp.Navigate(s.url))
	navCancel()
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceWTOP, Op: "navigate", Err: err}
	}

	readyCtx, readyCancel := context.WithTimeout(pageCtx, s.readyTimeout)
	err = chromedp.Run(readyCtx, chromedp.WaitVisible(s.selectors.Ready, chromedp.ByQuery))
	readyCancel()
	if err != nil {
		return nil, &domain.FetchError{Source: domain.SourceWTOP, Op: "wait ready", Err: err}
	}

	var items []pageItem
	if err := chromedp.Run(pageCtx, chromedp.Evaluate(script, &items)); err != nil {
		return nil, &domain.FetchError{Source: domain.SourceWTOP, Op: "extract", Err: err}
	}

	records := make([]domain.BrowserRecord, 0, len(items))
	for _, item := range items {
		records = append(records, item.record())
	}
	s.logger.Debug("page scraped", "url", s.url, "records", len(records))
	return records, nil
}

// interceptRequests continues document and XHR/fetch requests and fails every
// other resource type. Listeners must not block, so each reply runs on its own
// goroutine against the tab's target.
func (s *Scraper) interceptRequests(pageCtx context.Context) func(ev any) {
	return func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(pageCtx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(pageCtx, c.Target)

			var err error
			if allowResource(paused.ResourceType) {
				err = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
			} else {
				err = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			}
			if err != nil && pageCtx.Err() == nil {
				s.logger.Debug("request interception reply failed",
					"resource_type", paused.ResourceType,
					"error", err,
				)
			}
		}()
	}
}
