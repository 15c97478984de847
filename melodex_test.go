package melodex

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/melodex/blobstore"
	"github.com/hupe1980/melodex/config"
	"github.com/hupe1980/melodex/search"
	"github.com/hupe1980/melodex/vectorizer"
)

const testCatalog = `title,artist,genre,release_year,lyrics
Thunder Road,Bruce Springsteen,rock,1975,highway night engines roaring down the road
Blue in Green,Miles Davis,jazz,1959,quiet trumpet over soft piano chords
Highway Star,Deep Purple,rock,1972,fast car racing down the highway at night
`

func newTestEngine(t *testing.T, bs blobstore.Store) *Engine {
	t.Helper()

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "melodex.db")

	eng, err := New(cfg,
		WithVectorizer(vectorizer.NewHashing()),
		WithBlobStore(bs),
		WithLogger(NoopLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	return eng
}

func TestEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, blobstore.NewMemoryStore())

	// Not ready until Start completes.
	_, err := eng.Search(ctx, "highway night", 3)
	assert.ErrorIs(t, err, ErrNotReady)

	report, err := eng.Ingest(ctx, strings.NewReader(testCatalog))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Inserted)

	backfillReport, err := eng.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, backfillReport.Processed)

	require.NoError(t, eng.Start(ctx))
	assert.True(t, eng.Ready())

	resp, err := eng.Search(ctx, "racing down the highway at night", 2)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "Highway Star", resp.Results[0].Metadata.Title)
	assert.Equal(t, vectorizer.HashingModelVersion, resp.ModelVersion)
}

func TestEngineFilteredSearch(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, blobstore.NewMemoryStore())

	_, err := eng.Ingest(ctx, strings.NewReader(testCatalog))
	require.NoError(t, err)

	_, err = eng.Backfill(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.Start(ctx))

	resp, err := eng.Search(ctx, "highway trumpet piano", 3, search.WithGenre("jazz"))
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Blue in Green", resp.Results[0].Metadata.Title)
}

func TestStartIndexesRowsNewerThanSnapshot(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "melodex.db")

	newEngine := func() *Engine {
		eng, err := New(cfg,
			WithVectorizer(vectorizer.NewHashing()),
			WithBlobStore(bs),
			WithLogger(NoopLogger()),
		)
		require.NoError(t, err)
		return eng
	}

	eng := newEngine()

	_, err := eng.Ingest(ctx, strings.NewReader(testCatalog))
	require.NoError(t, err)
	_, err = eng.Backfill(ctx)
	require.NoError(t, err)
	require.NoError(t, eng.Reindex(ctx))

	// A track embedded after the snapshot was written.
	_, err = eng.Ingest(ctx, strings.NewReader(
		"title,artist,genre,release_year,lyrics\nParanoid,Black Sabbath,rock,1970,finished with my woman paranoid mind\n"))
	require.NoError(t, err)
	_, err = eng.Backfill(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.Close())

	// Restart: the restored snapshot holds three vectors, the table four.
	// Start must reconcile so the late track is searchable.
	eng2 := newEngine()
	t.Cleanup(func() { _ = eng2.Close() })

	require.NoError(t, eng2.Start(ctx))

	resp, err := eng2.Search(ctx, "paranoid mind woman", 1)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "Paranoid", resp.Results[0].Metadata.Title)
}

func TestEngineSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "melodex.db")

	eng, err := New(cfg,
		WithVectorizer(vectorizer.NewHashing()),
		WithBlobStore(bs),
		WithLogger(NoopLogger()),
	)
	require.NoError(t, err)

	_, err = eng.Ingest(ctx, strings.NewReader(testCatalog))
	require.NoError(t, err)

	_, err = eng.Backfill(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.Reindex(ctx))
	require.NoError(t, eng.Close())

	// A new engine over the same database restores the snapshot on Start.
	eng2, err := New(cfg,
		WithVectorizer(vectorizer.NewHashing()),
		WithBlobStore(bs),
		WithLogger(NoopLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng2.Close() })

	require.NoError(t, eng2.Start(ctx))

	resp, err := eng2.Search(ctx, "highway night", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}
