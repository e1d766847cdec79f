// Package sqlite persists incidents to an embedded SQLite database. It has the
// same contract as the postgres store and backs local runs without a server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS chartmd_incidents (
	entry_id          INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id       TEXT NOT NULL,
	incident_type     TEXT,
	description       TEXT,
	location          TEXT,
	county            TEXT,
	severity          INTEGER,
	lat               REAL,
	lon               REAL,
	lanes             TEXT,
	create_time       TEXT,
	start_time        TEXT,
	last_update       TEXT,
	direction         TEXT,
	vehicles_involved TEXT,
	lanes_status      TEXT,
	participants      TEXT,
	traffic_alert     INTEGER NOT NULL DEFAULT 0,
	additional_data   TEXT NOT NULL DEFAULT '{}',
	source            TEXT,
	op_center         TEXT,
	recorded_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chartmd_incident_id ON chartmd_incidents (incident_id);
CREATE INDEX IF NOT EXISTS idx_chartmd_recorded_at ON chartmd_incidents (recorded_at);

CREATE TABLE IF NOT EXISTS wtop_incidents (
	incident_id     TEXT PRIMARY KEY,
	title           TEXT,
	description     TEXT,
	location        TEXT,
	severity        TEXT,
	lat             REAL,
	lon             REAL,
	reported_time   TEXT,
	last_update     TEXT,
	source          TEXT,
	additional_data TEXT NOT NULL DEFAULT '{}',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);`

const insertHistorySQL = `
INSERT INTO chartmd_incidents (
	incident_id, incident_type, description, location, county, severity,
	lat, lon, lanes, create_time, start_time, last_update, direction,
	vehicles_involved, lanes_status, participants, traffic_alert,
	additional_data, source, op_center, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const upsertLatestSQL = `
INSERT INTO wtop_incidents (
	incident_id, title, description, location, severity, lat, lon,
	reported_time, last_update, source, additional_data, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (incident_id) DO UPDATE SET
	title           = excluded.title,
	description     = excluded.description,
	location        = excluded.location,
	severity        = excluded.severity,
	lat             = excluded.lat,
	lon             = excluded.lon,
	reported_time   = excluded.reported_time,
	last_update     = excluded.last_update,
	additional_data = excluded.additional_data,
	updated_at      = excluded.updated_at`

// Store is a database/sql backed incident store.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for recorded_at, created_at and updated_at.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens or creates the database at path, creating its parent directory.
// Use MemoryPath for a throwaway database.
func Open(path string, opts ...Option) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Migrate creates both tables and their indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// InsertHistoryIncident appends a CHART row. Repeated ids produce new rows.
func (s *Store) InsertHistoryIncident(ctx context.Context, inc domain.Incident) error {
	if err := inc.Validate(); err != nil {
		return err
	}
	extra, err := inc.AdditionalDataJSON()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertHistorySQL,
		inc.ID, inc.IncidentType, inc.Description, inc.Location, inc.County, inc.SeverityCode,
		nullFloat(inc.Lat), nullFloat(inc.Lon), inc.Lanes,
		formatTime(inc.CreateTime), formatTime(inc.StartTime), formatTime(inc.LastUpdate),
		inc.Direction, inc.VehiclesInvolved, inc.LanesStatus, inc.Participants, inc.TrafficAlert,
		string(extra), inc.Source, inc.OpCenter, formatTime(s.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert history incident: %w", err)
	}
	return nil
}

// UpsertLatestIncident inserts a WTOP row or overwrites the mutable fields of
// the existing row with the same incident id. created_at is set only on insert.
func (s *Store) UpsertLatestIncident(ctx context.Context, inc domain.Incident) error {
	if err := inc.Validate(); err != nil {
		return err
	}
	extra, err := inc.AdditionalDataJSON()
	if err != nil {
		return err
	}
	now := formatTime(s.clock.Now())
	_, err = s.db.ExecContext(ctx, upsertLatestSQL,
		inc.ID, inc.Title, inc.Description, inc.Location, string(inc.Severity),
		nullFloat(inc.Lat), nullFloat(inc.Lon),
		formatTime(inc.ReportedTime), formatTime(inc.LastUpdate), inc.Source,
		string(extra), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert latest incident: %w", err)
	}
	return nil
}

// LatestIncident reads a WTOP row by id. It returns sql.ErrNoRows when absent.
func (s *Store) LatestIncident(ctx context.Context, id string) (domain.StoredIncident, error) {
	var (
		out                                  domain.StoredIncident
		severity, extra                      string
		lat, lon                             sql.NullFloat64
		reported, updated, created, modified string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT incident_id, title, description, location, severity, lat, lon,
	reported_time, last_update, source, additional_data, created_at, updated_at
FROM wtop_incidents WHERE incident_id = ?`, id).Scan(
		&out.ID, &out.Title, &out.Description, &out.Location, &severity, &lat, &lon,
		&reported, &updated, &out.Source, &extra, &created, &modified,
	)
	if err != nil {
		return out, err
	}

	out.Severity = domain.Severity(severity)
	out.Lat, out.Lon = floatPtr(lat), floatPtr(lon)
	if err := json.Unmarshal([]byte(extra), &out.AdditionalData); err != nil {
		return out, fmt.Errorf("decode additional data: %w", err)
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&out.ReportedTime, reported},
		{&out.LastUpdate, updated},
		{&out.CreatedAt, created},
		{&out.UpdatedAt, modified},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return out, err
		}
	}
	return out, nil
}

// HistoryCount returns the number of CHART rows recorded for id.
func (s *Store) HistoryCount(ctx context.Context, id string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chartmd_incidents WHERE incident_id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history incidents: %w", err)
	}
	return n, nil
}

// Counts returns the total number of history and latest-state rows.
func (s *Store) Counts(ctx context.Context) (history, latest int, err error) {
	err = s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM chartmd_incidents), (SELECT COUNT(*) FROM wtop_incidents)`).Scan(&history, &latest)
	if err != nil {
		return 0, 0, fmt.Errorf("count incidents: %w", err)
	}
	return history, latest, nil
}

// Ping checks that the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
