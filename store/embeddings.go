package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/hupe1980/melodex/model"
)

// UpsertEmbeddings writes one embedding row per record in a single
// transaction. Records whose (track_id, model_version) pair already exists
// are skipped silently. The batch is all-or-nothing: any failure rolls back
// every write of this call.
func (s *Store) UpsertEmbeddings(ctx context.Context, records []model.EmbeddingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_embeddings (track_id, model_version, embedding)
		VALUES (?, ?, ?)
		ON CONFLICT (track_id, model_version) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	inserted := 0

	for _, rec := range records {
		if len(rec.Vector) != model.Dimension {
			return 0, fmt.Errorf("embedding for track %s has dimension %d, want %d",
				rec.TrackID, len(rec.Vector), model.Dimension)
		}

		res, err := stmt.ExecContext(ctx, rec.TrackID.String(), rec.ModelVersion, encodeVector(rec.Vector))
		if err != nil {
			return 0, fmt.Errorf("failed to upsert embedding for track %s: %w", rec.TrackID, err)
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

// LoadEmbeddings streams every embedding stored under the given model
// version to fn, in insertion order. It is used to rebuild the ANN index at
// startup. Iteration stops at the first error fn returns.
func (s *Store) LoadEmbeddings(ctx context.Context, modelVersion string, fn func(rec model.EmbeddingRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, model_version, embedding, created_at
		FROM track_embeddings
		WHERE model_version = ?
		ORDER BY id`, modelVersion)
	if err != nil {
		return fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec  model.EmbeddingRecord
			id   string
			blob []byte
		)

		if err := rows.Scan(&id, &rec.ModelVersion, &blob, &rec.CreatedAt); err != nil {
			return err
		}

		trackID, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("invalid track id %q: %w", id, err)
		}
		rec.TrackID = trackID

		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("corrupt embedding for track %s: %w", id, err)
		}
		rec.Vector = vec

		if err := fn(rec); err != nil {
			return err
		}
	}

	return rows.Err()
}

// CountEmbeddings returns the number of embedding rows under the given model
// version.
func (s *Store) CountEmbeddings(ctx context.Context, modelVersion string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM track_embeddings WHERE model_version = ?`, modelVersion).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// encodeVector packs a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}

	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
