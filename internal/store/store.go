// Package store persists tenants, device metadata, device credentials,
// shadows, data configs, and time-series points behind typed
// operations, hiding SQL from the rest of the platform. Grounded on
// original_source/src/db/mod.rs, with the bucketed-binary time-series
// variant deliberately not carried over: this Store adopts row-per-point
// as authoritative (see DESIGN.md, open question i).
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps one or two *sql.DB handles: the main pool for tenants,
// devices, shadows, and data configs, and an optional separate pool for
// time-series data. When no timeseries DSN is configured the main pool
// is reused (open question iii).
type Store struct {
	db   *sql.DB
	tsDB *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and,
// when tsPath is non-empty, a second database for time-series data.
// Both are migrated to their current schema before Open returns.
func Open(path, tsPath string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite only tolerates one writer at a time; a single connection
	// avoids "database is locked" errors under concurrent upserts and
	// lets UpsertShadow's BEGIN IMMEDIATE serialize cleanly.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{db: db, tsDB: db}

	if tsPath != "" && tsPath != path {
		tsDB, err := sql.Open("sqlite", tsPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("store: open timeseries %s: %w", tsPath, err)
		}
		tsDB.SetMaxOpenConns(1)
		s.tsDB = tsDB
	}

	if _, err := s.tsDB.Exec(timeseriesSchema); err != nil {
		s.Close()
		return nil, fmt.Errorf("store: migrate timeseries: %w", err)
	}

	return s, nil
}

// Close releases both underlying database handles.
func (s *Store) Close() error {
	var firstErr error
	if s.tsDB != s.db {
		if err := s.tsDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
