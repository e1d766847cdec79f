//go:build integration

package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/traffic-incident-ingest/internal/adapter/feed"
	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
	"github.com/couchcryptid/traffic-incident-ingest/internal/observability"
	"github.com/couchcryptid/traffic-incident-ingest/internal/pipeline"
)

func TestPostgresStore_UpsertAndHistory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store := startPostgres(ctx, t)

	require.NoError(t, store.Migrate(ctx), "migrate is repeatable")

	lat, lon := 39.08, -77.15
	inc := domain.Incident{
		ID:           "B1",
		Source:       domain.SourceWTOP,
		Title:        "Crash on I-270",
		Severity:     domain.SeverityMinor,
		ReportedTime: time.Date(2025, 4, 1, 23, 53, 0, 0, time.UTC),
		LastUpdate:   time.Date(2025, 4, 1, 23, 53, 0, 0, time.UTC),
	}
	require.NoError(t, store.UpsertLatestIncident(ctx, inc))
	first, err := store.LatestIncident(ctx, "B1")
	require.NoError(t, err)

	inc.Title = "Crash on I-270 cleared"
	inc.Severity = domain.SeverityMajor
	inc.Lat, inc.Lon = &lat, &lon
	inc.AdditionalData = map[string]any{"blockage": "left lane"}
	require.NoError(t, store.UpsertLatestIncident(ctx, inc))
	require.NoError(t, store.UpsertLatestIncident(ctx, inc))

	got, err := store.LatestIncident(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "Crash on I-270 cleared", got.Title)
	assert.Equal(t, domain.SeverityMajor, got.Severity)
	require.NotNil(t, got.Lat)
	assert.InDelta(t, lat, *got.Lat, 1e-9)
	assert.Equal(t, "left lane", got.AdditionalData["blockage"])
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt), "created_at is kept from the first write")
	assert.False(t, got.UpdatedAt.Before(first.UpdatedAt))

	_, err = store.LatestIncident(ctx, "missing")
	require.ErrorIs(t, err, pgx.ErrNoRows)

	hist := domain.Incident{ID: "X1", Source: domain.SourceChart, County: "Montgomery", SeverityCode: 2}
	require.NoError(t, store.InsertHistoryIncident(ctx, hist))
	require.NoError(t, store.InsertHistoryIncident(ctx, hist))
	n, err := store.HistoryCount(ctx, "X1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	history, latest, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, history)
	assert.Equal(t, 1, latest)
}

func TestPostgresStore_ChartCycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store := startPostgres(ctx, t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "data": [
			{"id": "X1", "county": "Montgomery", "type": 2, "createTime": "2025-04-01 19:53:00", "lat": 39.08, "lon": -77.15},
			{"id": "X2", "county": "Montgomery", "type": 1, "createTime": "2025-04-01 19:10:00"},
			{"id": "Y1", "county": "Frederick", "type": 1, "createTime": "2025-04-01 19:10:00"}
		]}`))
	}))
	defer srv.Close()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	ing := pipeline.NewIngester(
		pipeline.NewChartSource(feed.NewClient(srv.URL, 5*time.Second, logger), "Montgomery"),
		pipeline.PersistFunc(store.InsertHistoryIncident),
		logger, metrics,
		pipeline.WithLocation(loc),
	)

	res := ing.Run(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Persisted)
	assert.Equal(t, 2, res.Total)

	assert.Equal(t, 2, ing.Ingest(ctx), "a second cycle appends again")
	n, err := store.HistoryCount(ctx, "X1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = store.HistoryCount(ctx, "Y1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
