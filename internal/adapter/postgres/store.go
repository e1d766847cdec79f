// Package postgres persists incidents to PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS chartmd_incidents (
	entry_id          BIGSERIAL PRIMARY KEY,
	incident_id       VARCHAR(255) NOT NULL,
	incident_type     VARCHAR(255),
	description       TEXT,
	location          VARCHAR(255),
	county            VARCHAR(100),
	severity          INTEGER,
	lat               DOUBLE PRECISION,
	lon               DOUBLE PRECISION,
	lanes             TEXT,
	create_time       TIMESTAMP,
	start_time        TIMESTAMP,
	last_update       TIMESTAMP,
	direction         VARCHAR(50),
	vehicles_involved TEXT,
	lanes_status      TEXT,
	participants      TEXT,
	traffic_alert     BOOLEAN NOT NULL DEFAULT FALSE,
	additional_data   JSONB NOT NULL DEFAULT '{}'::jsonb,
	source            VARCHAR(100),
	op_center         VARCHAR(100),
	recorded_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chartmd_incident_id ON chartmd_incidents (incident_id);
CREATE INDEX IF NOT EXISTS idx_chartmd_recorded_at ON chartmd_incidents (recorded_at);

CREATE TABLE IF NOT EXISTS wtop_incidents (
	incident_id     VARCHAR(255) PRIMARY KEY,
	title           VARCHAR(255),
	description     TEXT,
	location        VARCHAR(255),
	severity        VARCHAR(100),
	lat             DOUBLE PRECISION,
	lon             DOUBLE PRECISION,
	reported_time   TIMESTAMPTZ,
	last_update     TIMESTAMPTZ,
	source          VARCHAR(100),
	additional_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const insertHistorySQL = `
INSERT INTO chartmd_incidents (
	incident_id, incident_type, description, location, county, severity,
	lat, lon, lanes, create_time, start_time, last_update, direction,
	vehicles_involved, lanes_status, participants, traffic_alert,
	additional_data, source, op_center
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

// created_at is absent from the update list so the first sighting is kept.
const upsertLatestSQL = `
INSERT INTO wtop_incidents (
	incident_id, title, description, location, severity, lat, lon,
	reported_time, last_update, source, additional_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (incident_id) DO UPDATE SET
	title           = EXCLUDED.title,
	description     = EXCLUDED.description,
	location        = EXCLUDED.location,
	severity        = EXCLUDED.severity,
	lat             = EXCLUDED.lat,
	lon             = EXCLUDED.lon,
	reported_time   = EXCLUDED.reported_time,
	last_update     = EXCLUDED.last_update,
	additional_data = EXCLUDED.additional_data,
	updated_at      = NOW()`

const selectLatestSQL = `
SELECT incident_id, title, description, location, severity, lat, lon,
	reported_time, last_update, source, additional_data, created_at, updated_at
FROM wtop_incidents WHERE incident_id = $1`

// Store writes CHART history rows and WTOP latest-state rows.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pool for url. Connections are opened lazily, so an unreachable
// database surfaces on the first Ping or write rather than here.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The Store takes ownership and closes it.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates both tables and their indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// InsertHistoryIncident appends a CHART row. Repeated ids produce new rows.
func (s *Store) InsertHistoryIncident(ctx context.Context, inc domain.Incident) error {
	args, err := historyArgs(inc)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertHistorySQL, args...); err != nil {
		return fmt.Errorf("insert history incident: %w", err)
	}
	return nil
}

// UpsertLatestIncident inserts a WTOP row or overwrites the mutable fields of
// the existing row with the same incident id.
func (s *Store) UpsertLatestIncident(ctx context.Context, inc domain.Incident) error {
	args, err := latestArgs(inc)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertLatestSQL, args...); err != nil {
		return fmt.Errorf("upsert latest incident: %w", err)
	}
	return nil
}

// LatestIncident reads a WTOP row by id. It returns pgx.ErrNoRows when absent.
func (s *Store) LatestIncident(ctx context.Context, id string) (domain.StoredIncident, error) {
	var (
		out      domain.StoredIncident
		severity string
		extra    map[string]any
	)
	err := s.pool.QueryRow(ctx, selectLatestSQL, id).Scan(
		&out.ID, &out.Title, &out.Description, &out.Location, &severity,
		&out.Lat, &out.Lon, &out.ReportedTime, &out.LastUpdate, &out.Source,
		&extra, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, err
		}
		return out, fmt.Errorf("select latest incident: %w", err)
	}
	out.Severity = domain.Severity(severity)
	out.AdditionalData = extra
	return out, nil
}

// HistoryCount returns the number of CHART rows recorded for id.
func (s *Store) HistoryCount(ctx context.Context, id string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chartmd_incidents WHERE incident_id = $1`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history incidents: %w", err)
	}
	return n, nil
}

// Counts returns the total number of history and latest-state rows.
func (s *Store) Counts(ctx context.Context) (history, latest int, err error) {
	err = s.pool.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM chartmd_incidents), (SELECT COUNT(*) FROM wtop_incidents)`).Scan(&history, &latest)
	if err != nil {
		return 0, 0, fmt.Errorf("count incidents: %w", err)
	}
	return history, latest, nil
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func historyArgs(inc domain.Incident) ([]any, error) {
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	extra, err := inc.AdditionalDataJSON()
	if err != nil {
		return nil, err
	}
	return []any{
		inc.ID, inc.IncidentType, inc.Description, inc.Location, inc.County, inc.SeverityCode,
		inc.Lat, inc.Lon, inc.Lanes, inc.CreateTime, inc.StartTime, inc.LastUpdate, inc.Direction,
		inc.VehiclesInvolved, inc.LanesStatus, inc.Participants, inc.TrafficAlert,
		string(extra), inc.Source, inc.OpCenter,
	}, nil
}

func latestArgs(inc domain.Incident) ([]any, error) {
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	extra, err := inc.AdditionalDataJSON()
	if err != nil {
		return nil, err
	}
	return []any{
		inc.ID, inc.Title, inc.Description, inc.Location, string(inc.Severity),
		inc.Lat, inc.Lon, inc.ReportedTime, inc.LastUpdate, inc.Source, string(extra),
	}, nil
}
