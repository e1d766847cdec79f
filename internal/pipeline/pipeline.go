package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
	"github.com/couchcryptid/traffic-incident-ingest/internal/observability"
)

// Source fetches one cycle's worth of raw records from an external feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.RawIncident, error)
}

// Persister writes a single canonical incident.
type Persister interface {
	Persist(ctx context.Context, inc domain.Incident) error
}

// PersistFunc adapts a store method to Persister.
type PersistFunc func(ctx context.Context, inc domain.Incident) error

func (f PersistFunc) Persist(ctx context.Context, inc domain.Incident) error { return f(ctx, inc) }

// Enricher augments a normalized incident before it is persisted.
type Enricher interface {
	Enrich(ctx context.Context, inc domain.Incident) domain.Incident
}

// BatchLoader receives the incidents persisted in a cycle.
type BatchLoader interface {
	LoadBatch(ctx context.Context, incidents []domain.Incident) error
}

// Result summarizes one ingestion cycle for a source.
type Result struct {
	Source    string
	Persisted int
	Total     int
	Duration  time.Duration
	Err       error
}

// Ingester coordinates fetch, normalize and persist for one source.
type Ingester struct {
	source    Source
	persister Persister
	enricher  Enricher
	loader    BatchLoader
	loc       *time.Location
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithBatchSize persists records in sequential batches of n concurrent writes.
// Values below 2 persist records one at a time.
func WithBatchSize(n int) Option {
	return func(i *Ingester) { i.batchSize = n }
}

// WithEnricher runs e on every normalized incident.
func WithEnricher(e Enricher) Option {
	return func(i *Ingester) { i.enricher = e }
}

// WithLoader hands persisted incidents to l after each cycle.
func WithLoader(l BatchLoader) Option {
	return func(i *Ingester) { i.loader = l }
}

// WithLocation sets the location used to interpret zone-less source timestamps.
func WithLocation(loc *time.Location) Option {
	return func(i *Ingester) { i.loc = loc }
}

// NewIngester creates an Ingester for src writing through p.
func NewIngester(src Source, p Persister, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Ingester {
	i := &Ingester{
		source:    src,
		persister: p,
		loc:       time.Local,
		batchSize: 1,
		logger:    logger.With("source", src.Name()),
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest runs one cycle and returns the number of incidents persisted.
func (i *Ingester) Ingest(ctx context.Context) int {
	return i.Run(ctx).Persisted
}

// Run fetches, normalizes and persists one cycle. A fetch or schema failure
// aborts the cycle with zero persisted; individual write failures are logged
// and skipped.
func (i *Ingester) Run(ctx context.Context) Result {
	start := time.Now()
	name := i.source.Name()
	res := Result{Source: name}
	i.metrics.CyclesTotal.WithLabelValues(name).Inc()

	raws, err := i.source.Fetch(ctx)
	if err != nil {
		i.recordFetchError(err)
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	incidents := i.normalize(ctx, raws)
	res.Total = len(incidents)
	i.metrics.RecordsFetched.WithLabelValues(name).Add(float64(len(incidents)))

	persisted := i.persistAll(ctx, incidents)
	res.Persisted = len(persisted)
	i.metrics.RecordsPersisted.WithLabelValues(name).Add(float64(len(persisted)))

	if i.loader != nil && len(persisted) > 0 {
		if err := i.loader.LoadBatch(ctx, persisted); err != nil {
			i.logger.Warn("publish incidents failed", "error", err, "count", len(persisted))
			i.metrics.PublishErrors.WithLabelValues(name).Inc()
		}
	}

	res.Duration = time.Since(start)
	i.metrics.CycleDuration.WithLabelValues(name).Observe(res.Duration.Seconds())
	i.logger.Info("ingest cycle complete",
		"persisted", res.Persisted,
		"total", res.Total,
		"duration", res.Duration,
	)
	return res
}

func (i *Ingester) recordFetchError(err error) {
	name := i.source.Name()
	var schemaErr *domain.SchemaError
	if errors.As(err, &schemaErr) {
		i.logger.Error("invalid source payload, skipping cycle", "error", err)
		i.metrics.FetchErrors.WithLabelValues(name, "schema").Inc()
		return
	}
	i.logger.Error("fetch failed, skipping cycle", "error", err)
	i.metrics.FetchErrors.WithLabelValues(name, "fetch").Inc()
}

func (i *Ingester) normalize(ctx context.Context, raws []domain.RawIncident) []domain.Incident {
	incidents := make([]domain.Incident, 0, len(raws))
	for _, raw := range raws {
		inc, issues := raw.Normalize(i.loc)
		for _, issue := range issues {
			i.logger.Debug("field fell back to default",
				"incident_id", inc.ID,
				"field", issue.Field,
				"value", issue.Value,
				"error", issue.Err,
			)
		}
		if i.enricher != nil {
			inc = i.enricher.Enrich(ctx, inc)
		}
		incidents = append(incidents, inc)
	}
	return incidents
}

// persistAll writes incidents in sequential batches. Writes within a batch run
// concurrently; a batch completes before the next one starts. The returned
// slice keeps the input order.
func (i *Ingester) persistAll(ctx context.Context, incidents []domain.Incident) []domain.Incident {
	ok := make([]bool, len(incidents))

	if i.batchSize < 2 {
		for idx := range incidents {
			ok[idx] = i.persistOne(ctx, incidents[idx])
		}
	} else {
		for start := 0; start < len(incidents); start += i.batchSize {
			end := min(start+i.batchSize, len(incidents))
			var g errgroup.Group
			for idx := start; idx < end; idx++ {
				g.Go(func() error {
					ok[idx] = i.persistOne(ctx, incidents[idx])
					return nil
				})
			}
			_ = g.Wait()
		}
	}

	persisted := make([]domain.Incident, 0, len(incidents))
	for idx, inc := range incidents {
		if ok[idx] {
			persisted = append(persisted, inc)
		}
	}
	return persisted
}

func (i *Ingester) persistOne(ctx context.Context, inc domain.Incident) bool {
	name := i.source.Name()
	if err := inc.Validate(); err != nil {
		i.logger.Warn("skipping incident", "error", err, "title", inc.Title)
		i.metrics.PersistErrors.WithLabelValues(name).Inc()
		return false
	}
	if err := i.persister.Persist(ctx, inc); err != nil {
		perr := &domain.PersistError{Source: name, IncidentID: inc.ID, Err: err}
		i.logger.Warn("persist incident failed", "incident_id", inc.ID, "error", perr)
		i.metrics.PersistErrors.WithLabelValues(name).Inc()
		return false
	}
	return true
}
