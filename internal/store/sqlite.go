// Package store caches attributed addresses in a local SQLite database so
// the expensive spatial join can be skipped on re-runs, and records a log
// of pipeline runs.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/housing-sim/synthpop-cli/internal/model"
)

// Store wraps the SQLite cache database.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at the given path and configures WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS attributed_addresses (
	cache_key     TEXT NOT NULL,
	address_id    TEXT NOT NULL,
	longitude     REAL NOT NULL,
	latitude      REAL NOT NULL,
	building_type TEXT,
	postcode      TEXT,
	state         TEXT,
	area_code     TEXT,
	area_name     TEXT,
	quality       TEXT NOT NULL,
	seq           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	detail      TEXT,
	rows_out    INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_attributed_cache_key ON attributed_addresses(cache_key);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Migrate creates the cache schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "store: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CacheKey derives the attribution cache key from the inputs that make a
// cached join valid: the data paths, the declared CRS, and the policy.
func CacheKey(gnafDir, shapefilePath, crs string, policy model.UnmatchedPolicy) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s", gnafDir, shapefilePath, crs, policy))
	return hex.EncodeToString(sum[:])
}

// SaveAttribution replaces any cached rows under key with the given
// attribution result. Insert order is preserved so a reload returns rows
// in the original order.
func (s *Store) SaveAttribution(ctx context.Context, key string, rows []model.AttributedAddress) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "store: begin save attribution")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attributed_addresses WHERE cache_key = ?`, key); err != nil {
		return eris.Wrap(err, "store: clear cached attribution")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attributed_addresses
			(cache_key, address_id, longitude, latitude, building_type, postcode, state, area_code, area_name, quality, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "store: prepare attribution insert")
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			key, row.ID, row.Longitude, row.Latitude,
			row.BuildingType, row.Postcode, row.State,
			row.AreaCode, row.AreaName, string(row.Quality), i,
		); err != nil {
			return eris.Wrapf(err, "store: insert attributed address %s", row.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "store: commit attribution")
}

// LoadAttribution returns the cached attribution for key, or ok=false
// when nothing is cached.
func (s *Store) LoadAttribution(ctx context.Context, key string) ([]model.AttributedAddress, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address_id, longitude, latitude, building_type, postcode, state, area_code, area_name, quality
		FROM attributed_addresses
		WHERE cache_key = ?
		ORDER BY seq`, key)
	if err != nil {
		return nil, false, eris.Wrap(err, "store: query cached attribution")
	}
	defer rows.Close()

	var out []model.AttributedAddress
	for rows.Next() {
		var a model.AttributedAddress
		var quality string
		if err := rows.Scan(
			&a.ID, &a.Longitude, &a.Latitude,
			&a.BuildingType, &a.Postcode, &a.State,
			&a.AreaCode, &a.AreaName, &quality,
		); err != nil {
			return nil, false, eris.Wrap(err, "store: scan cached attribution")
		}
		a.Quality = model.JoinQuality(quality)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, false, eris.Wrap(err, "store: iterate cached attribution")
	}

	return out, len(out) > 0, nil
}

// Run is one recorded pipeline invocation.
type Run struct {
	ID         string
	Command    string
	Status     string
	Detail     string
	RowsOut    int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// StartRun records the beginning of a pipeline invocation.
func (s *Store) StartRun(ctx context.Context, command string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, status, started_at) VALUES (?, ?, ?, ?)`,
		id, command, RunRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "store: insert run")
	}
	return id, nil
}

// FinishRun records the outcome of a pipeline invocation.
func (s *Store) FinishRun(ctx context.Context, id, status, detail string, rowsOut int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, detail = ?, rows_out = ?, finished_at = ? WHERE id = ?`,
		status, detail, rowsOut, time.Now().UTC(), id,
	)
	return eris.Wrap(err, "store: finish run")
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, status, COALESCE(detail, ''), rows_out, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.Status, &r.Detail, &r.RowsOut, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate runs")
	}
	return out, nil
}
