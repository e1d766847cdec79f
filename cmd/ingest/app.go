package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/traffic-incident-ingest/internal/adapter/browser"
	"github.com/couchcryptid/traffic-incident-ingest/internal/adapter/feed"
	kafkaadapter "github.com/couchcryptid/traffic-incident-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/traffic-incident-ingest/internal/adapter/mapbox"
	"github.com/couchcryptid/traffic-incident-ingest/internal/adapter/postgres"
	"github.com/couchcryptid/traffic-incident-ingest/internal/adapter/sqlite"
	"github.com/couchcryptid/traffic-incident-ingest/internal/config"
	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
	"github.com/couchcryptid/traffic-incident-ingest/internal/observability"
	"github.com/couchcryptid/traffic-incident-ingest/internal/pipeline"
)

var allSources = []string{domain.SourceChart, domain.SourceWTOP}

// incidentStore is the persistence contract both store adapters satisfy.
type incidentStore interface {
	Migrate(ctx context.Context) error
	InsertHistoryIncident(ctx context.Context, inc domain.Incident) error
	UpsertLatestIncident(ctx context.Context, inc domain.Incident) error
	Counts(ctx context.Context) (history, latest int, err error)
	Ping(ctx context.Context) error
	Close() error
}

// app owns every long-lived resource and closes them in dependency order.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	store     incidentStore
	browser   *browser.Browser
	publisher *kafkaadapter.Writer
	ingesters []*pipeline.Ingester
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, sources []string) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics, store: store}

	var loader pipeline.BatchLoader
	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = kafkaadapter.NewWriter(cfg, observability.Component(logger, "kafka"))
		loader = a.publisher
		logger.Info("change events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	for _, name := range sources {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case domain.SourceChart:
			a.ingesters = append(a.ingesters, a.chartIngester(loader))
		case domain.SourceWTOP:
			a.ingesters = append(a.ingesters, a.wtopIngester(loader))
		default:
			a.close()
			return nil, fmt.Errorf("unknown source %q: must be CHART or WTOP", name)
		}
	}
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (incidentStore, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func (a *app) chartIngester(loader pipeline.BatchLoader) *pipeline.Ingester {
	logger := observability.Component(a.logger, "chart")
	client := feed.NewClient(a.cfg.Chart.URL, a.cfg.Chart.Timeout, logger)

	opts := []pipeline.Option{pipeline.WithLocation(a.cfg.WTOP.Location)}
	if loader != nil {
		opts = append(opts, pipeline.WithLoader(loader))
	}
	return pipeline.NewIngester(
		pipeline.NewChartSource(client, a.cfg.Chart.County),
		pipeline.PersistFunc(a.store.InsertHistoryIncident),
		logger, a.metrics, opts...,
	)
}

func (a *app) wtopIngester(loader pipeline.BatchLoader) *pipeline.Ingester {
	logger := observability.Component(a.logger, "wtop")
	a.browser = browser.New(a.cfg.WTOP, observability.Component(a.logger, "browser"))
	scraper := browser.NewScraper(a.browser, a.cfg.WTOP, logger)

	opts := []pipeline.Option{
		pipeline.WithBatchSize(a.cfg.WTOP.BatchSize),
		pipeline.WithLocation(a.cfg.WTOP.Location),
	}
	if geocoder := a.geocoder(); geocoder != nil {
		opts = append(opts, pipeline.WithEnricher(
			pipeline.NewGeocodeEnricher(geocoder, a.cfg.GeocodeRegion, logger)))
	}
	if loader != nil {
		opts = append(opts, pipeline.WithLoader(loader))
	}
	return pipeline.NewIngester(
		pipeline.NewBrowserSource(scraper),
		pipeline.PersistFunc(a.store.UpsertLatestIncident),
		logger, a.metrics, opts...,
	)
}

// geocoder returns nil when Mapbox is disabled.
func (a *app) geocoder() domain.Geocoder {
	if !a.cfg.MapboxEnabled {
		a.metrics.GeocodeEnabled.Set(0)
		a.logger.Info("mapbox geocoding disabled")
		return nil
	}
	logger := observability.Component(a.logger, "mapbox")
	client := mapbox.NewClient(a.cfg.MapboxToken, a.cfg.MapboxTimeout, a.metrics, logger)
	a.metrics.GeocodeEnabled.Set(1)
	a.logger.Info("mapbox geocoding enabled", "cache_size", a.cfg.MapboxCacheSize, "timeout", a.cfg.MapboxTimeout)
	return mapbox.NewCachedGeocoder(client, a.cfg.MapboxCacheSize, a.metrics)
}

func (a *app) runners() []pipeline.Runner {
	runners := make([]pipeline.Runner, len(a.ingesters))
	for i, ing := range a.ingesters {
		runners[i] = ing
	}
	return runners
}

// close releases the browser, then the publisher, then the store.
func (a *app) close() {
	a.closeBrowser()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}
}

// closeBrowser shuts down the shared browser. Later calls are no-ops.
func (a *app) closeBrowser() {
	if a.browser == nil {
		return
	}
	if err := a.browser.Close(); err != nil {
		a.logger.Error("browser close error", "error", err)
	}
}

// waitForStore pings the store with exponential backoff until it answers or
// maxWait elapses.
func waitForStore(ctx context.Context, store pipeline.Pinger, logger *slog.Logger, maxWait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	backoff := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := store.Ping(ctx)
		if err == nil {
			return nil
		}
		logger.Warn("store not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return errors.Join(fmt.Errorf("store not reachable after %d attempts", attempt), err)
		}
		backoff = sharedretry.NextBackoff(backoff, 10*time.Second)
	}
}
