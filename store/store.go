// Package store persists tracks and their embeddings in SQLite.
//
// Two tables back the system: tracks (one row per song, unique on
// title+artist) and track_embeddings (one row per (track, model_version),
// unique on that pair, cascade-deleted with the owning track). The uniqueness
// constraints are the source of truth for duplicate handling; inserts are
// conflict-tolerant and never error on rows that already exist.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // cgo-free sqlite driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	artist           TEXT NOT NULL,
	album            TEXT,
	genre            TEXT,
	release_year     INTEGER,
	lyrics           TEXT,
	popularity_score REAL NOT NULL DEFAULT 0.0,
	created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (title, artist)
);

CREATE TABLE IF NOT EXISTS track_embeddings (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id      TEXT NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
	model_version TEXT NOT NULL,
	embedding     BLOB NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (track_id, model_version)
);

CREATE INDEX IF NOT EXISTS idx_track_embeddings_track_id
	ON track_embeddings (track_id);
`

// Store wraps the SQLite database holding tracks and embeddings.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes the database at path and applies the schema.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Performance pragmas; foreign_keys=ON is required for the embedding
	// cascade delete.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// DB exposes the underlying handle for collaborators that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
