package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/melodex/blobstore"
	"github.com/hupe1980/melodex/metric"
	"github.com/hupe1980/melodex/model"
	"github.com/hupe1980/melodex/store"
)

const testModelVersion = "test-model-v1"

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "melodex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// axisVector returns a unit vector rotated away from the first axis by a
// seed-controlled amount, so similarity ordering is predictable.
func axisVector(weight float32) []float32 {
	v := make([]float32, model.Dimension)
	v[0] = weight
	v[1] = 1 - weight
	metric.NormalizeL2InPlace(v)
	return v
}

func insertTrack(t *testing.T, s *store.Store) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := s.InsertTracks(context.Background(), []model.Track{
		{ID: id, Title: "t-" + id.String(), Artist: "a"},
	})
	require.NoError(t, err)

	return id
}

func TestUpsertAndQueryNearest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	weights := []float32{1.0, 0.8, 0.5, 0.2, 0.0}
	ids := make([]uuid.UUID, len(weights))

	for i, w := range weights {
		ids[i] = insertTrack(t, s)

		inserted, err := vs.Upsert(ctx, []model.EmbeddingRecord{
			{TrackID: ids[i], Vector: axisVector(w)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)
	}

	query := axisVector(1.0)

	neighbors, err := vs.QueryNearest(ctx, query, 3)
	require.NoError(t, err)
	require.Len(t, neighbors, 3)

	// Closest first: the vector identical to the query.
	assert.Equal(t, ids[0], neighbors[0].TrackID)

	// Raw distance is the negative inner product: -1 for identical unit
	// vectors, ascending from there.
	assert.InDelta(t, -1.0, float64(neighbors[0].Distance), 1e-4)
	for i := 1; i < len(neighbors); i++ {
		assert.LessOrEqual(t, neighbors[i-1].Distance, neighbors[i].Distance)
	}
}

func TestUpsertIsConflictTolerant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	id := insertTrack(t, s)
	rec := model.EmbeddingRecord{TrackID: id, Vector: axisVector(0.7)}

	inserted, err := vs.Upsert(ctx, []model.EmbeddingRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	// Repeated upsert: no error, no new row, no duplicate graph node.
	inserted, err = vs.Upsert(ctx, []model.EmbeddingRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 1, vs.Len())
}

func TestRebuildFromRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	id := insertTrack(t, s)
	_, err := vs.Upsert(ctx, []model.EmbeddingRecord{
		{TrackID: id, Vector: axisVector(0.9)},
	})
	require.NoError(t, err)

	// A second store over the same db starts cold and recovers the graph
	// from the persisted rows.
	vs2 := New(s, testModelVersion)
	assert.Equal(t, 0, vs2.Len())

	require.NoError(t, vs2.Rebuild(ctx))
	assert.Equal(t, 1, vs2.Len())

	neighbors, err := vs2.QueryNearest(ctx, axisVector(0.9), 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, id, neighbors[0].TrackID)
}

func TestRebuildIgnoresOtherModelVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := insertTrack(t, s)

	old := New(s, "old-model")
	_, err := old.Upsert(ctx, []model.EmbeddingRecord{
		{TrackID: id, Vector: axisVector(0.4)},
	})
	require.NoError(t, err)

	current := New(s, testModelVersion)
	require.NoError(t, current.Rebuild(ctx))
	assert.Equal(t, 0, current.Len())
}

func TestQueryNearestReturnsFullK(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	// Anti-aligned vectors score a negative similarity, so every real
	// candidate ranks behind the graph's zero-vector entry point. The
	// result set must still hold k tracks.
	query := make([]float32, model.Dimension)
	query[0] = -1

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = insertTrack(t, s)

		_, err := vs.Upsert(ctx, []model.EmbeddingRecord{
			{TrackID: ids[i], Vector: axisVector(1 - float32(i)*0.1)},
		})
		require.NoError(t, err)
	}

	neighbors, err := vs.QueryNearest(ctx, query, 3)
	require.NoError(t, err)

	require.Len(t, neighbors, 3)
	for _, n := range neighbors {
		assert.Greater(t, n.Distance, float32(0))
	}
}

func TestUpsertLeavesInputUntouched(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	id := insertTrack(t, s)
	records := []model.EmbeddingRecord{{TrackID: id, Vector: axisVector(0.5)}}

	_, err := vs.Upsert(ctx, records)
	require.NoError(t, err)

	assert.Empty(t, records[0].ModelVersion)
}

func TestSyncIndexesRowsMissingFromGraph(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	first := insertTrack(t, s)
	_, err := vs.Upsert(ctx, []model.EmbeddingRecord{
		{TrackID: first, Vector: axisVector(0.9)},
	})
	require.NoError(t, err)

	bs := blobstore.NewMemoryStore()
	require.NoError(t, vs.Snapshot(ctx, bs))

	// A row written after the snapshot.
	second := insertTrack(t, s)
	_, err = vs.Upsert(ctx, []model.EmbeddingRecord{
		{TrackID: second, Vector: axisVector(0.1)},
	})
	require.NoError(t, err)

	restored := New(s, testModelVersion)
	require.NoError(t, restored.Restore(ctx, bs))
	require.Equal(t, 1, restored.Len())

	added, err := restored.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, restored.Len())

	neighbors, err := restored.QueryNearest(ctx, axisVector(0.1), 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, second, neighbors[0].TrackID)

	// Already-synced stores are a no-op.
	added, err = restored.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = insertTrack(t, s)
		_, err := vs.Upsert(ctx, []model.EmbeddingRecord{
			{TrackID: ids[i], Vector: axisVector(float32(i) / 5)},
		})
		require.NoError(t, err)
	}

	bs := blobstore.NewMemoryStore()
	require.NoError(t, vs.Snapshot(ctx, bs))

	restored := New(s, testModelVersion)
	require.NoError(t, restored.Restore(ctx, bs))
	assert.Equal(t, vs.Len(), restored.Len())

	want, err := vs.QueryNearest(ctx, axisVector(0.8), 3)
	require.NoError(t, err)

	got, err := restored.QueryNearest(ctx, axisVector(0.8), 3)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestRestoreMissingSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vs := New(s, testModelVersion)

	err := vs.Restore(ctx, blobstore.NewMemoryStore())
	assert.True(t, blobstore.IsNotFound(err))
}
