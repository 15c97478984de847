package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/melodex/model"
)

// InsertTracks inserts a batch of tracks in one transaction and returns the
// number of rows actually inserted. Rows whose (title, artist) pair already
// exists are skipped silently; the uniqueness constraint does the duplicate
// detection.
func (s *Store) InsertTracks(ctx context.Context, tracks []model.Track) (int, error) {
	if len(tracks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracks (id, title, artist, album, genre, release_year, lyrics, popularity_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (title, artist) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0

	for _, t := range tracks {
		id := t.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		res, err := stmt.ExecContext(ctx,
			id.String(),
			t.Title,
			t.Artist,
			nullString(t.Album),
			nullString(t.Genre),
			nullInt(t.ReleaseYear),
			nullString(t.Lyrics),
			t.PopularityScore,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert track %q/%q: %w", t.Title, t.Artist, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	return inserted, nil
}

const trackColumns = `id, title, artist, album, genre, release_year, lyrics, popularity_score, created_at`

// GetTrack returns one track by id. ErrNotFound is returned when no row
// exists, which on the search path signals a data-integrity fault: the ANN
// index referenced a track the table no longer has.
func (s *Store) GetTrack(ctx context.Context, id uuid.UUID) (*model.Track, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id.String())

	t, err := scanTrack(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("track %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	return t, nil
}

// DeleteTrack removes a track. The embedding rows cascade via the foreign
// key; no orphaned vectors remain.
func (s *Store) DeleteTrack(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("track %s: %w", id, ErrNotFound)
	}

	return nil
}

// TracksWithoutEmbedding returns up to limit tracks that have no embedding
// row under the given model version. Tracks embedded under a previous model
// version qualify, so a model upgrade re-embeds the catalog without manual
// migration.
func (s *Store) TracksWithoutEmbedding(ctx context.Context, modelVersion string, limit int) ([]model.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+trackColumns+` FROM tracks
		WHERE id NOT IN (
			SELECT track_id FROM track_embeddings WHERE model_version = ?
		)
		LIMIT ?`, modelVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks without embedding: %w", err)
	}
	defer rows.Close()

	var tracks []model.Track

	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *t)
	}

	return tracks, rows.Err()
}

// ForEachTrack streams every track through fn in insertion order. A non-nil
// error from fn stops the iteration and is returned as-is.
func (s *Store) ForEachTrack(ctx context.Context, fn func(t model.Track) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return err
		}
		if err := fn(*t); err != nil {
			return err
		}
	}

	return rows.Err()
}

// CountTracks returns the total number of tracks.
func (s *Store) CountTracks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(r rowScanner) (*model.Track, error) {
	var (
		t           model.Track
		id          string
		album       sql.NullString
		genre       sql.NullString
		releaseYear sql.NullInt64
		lyrics      sql.NullString
	)

	if err := r.Scan(&id, &t.Title, &t.Artist, &album, &genre, &releaseYear, &lyrics, &t.PopularityScore, &t.CreatedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid track id %q: %w", id, err)
	}

	t.ID = parsed
	t.Album = album.String
	t.Genre = genre.String
	t.ReleaseYear = int(releaseYear.Int64)
	t.Lyrics = lyrics.String

	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
