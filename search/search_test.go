package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/melodex/filterindex"
	"github.com/hupe1980/melodex/model"
	"github.com/hupe1980/melodex/store"
	"github.com/hupe1980/melodex/vectorizer"
	"github.com/hupe1980/melodex/vectorstore"
)

type fixture struct {
	store   *store.Store
	vectors *vectorstore.VectorStore
	filters *filterindex.Index
	service *Service
}

func newFixture(t *testing.T, tracks []model.Track) *fixture {
	t.Helper()

	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "melodex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v := vectorizer.NewHashing()
	vs := vectorstore.New(s, v.ModelVersion())
	filters := filterindex.New()

	for i := range tracks {
		if tracks[i].ID == uuid.Nil {
			tracks[i].ID = uuid.New()
		}
	}

	_, err = s.InsertTracks(ctx, tracks)
	require.NoError(t, err)

	for _, track := range tracks {
		vecs, err := v.Generate(ctx, []model.EmbeddingItem{
			{Title: track.Title, Artist: track.Artist, Lyrics: track.Lyrics},
		}, 1)
		require.NoError(t, err)

		_, err = vs.Upsert(ctx, []model.EmbeddingRecord{
			{TrackID: track.ID, Vector: vecs[0]},
		})
		require.NoError(t, err)

		filters.Add(track.ID, track.Genre, track.ReleaseYear)
	}

	svc := New(v, vs, s, func(o *Options) {
		o.FilterIndex = filters
	})

	return &fixture{store: s, vectors: vs, filters: filters, service: svc}
}

func catalog() []model.Track {
	return []model.Track{
		{Title: "Thunder Road", Artist: "Bruce Springsteen", Genre: "rock", ReleaseYear: 1975, Lyrics: "highway night engines roaring down the road"},
		{Title: "Blue in Green", Artist: "Miles Davis", Genre: "jazz", ReleaseYear: 1959, Lyrics: "quiet trumpet over soft piano chords"},
		{Title: "Highway Star", Artist: "Deep Purple", Genre: "rock", ReleaseYear: 1972, Lyrics: "fast car racing down the highway at night"},
		{Title: "So What", Artist: "Miles Davis", Genre: "jazz", ReleaseYear: 1959, Lyrics: "modal jazz piano and trumpet conversation"},
	}
}

func TestSearchRanksAndBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog())

	resp, err := f.service.Search(ctx, "racing down the highway at night", 3)
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), 3)

	for i, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.NotEmpty(t, r.Metadata.Title)

		if i > 0 {
			assert.GreaterOrEqual(t, resp.Results[i-1].Score, r.Score)
		}
	}

	assert.Equal(t, "Highway Star", resp.Results[0].Metadata.Title)
	assert.Equal(t, vectorizer.HashingModelVersion, resp.ModelVersion)
	assert.GreaterOrEqual(t, resp.LatencyMS, 0.0)
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog())

	_, err := f.service.Search(ctx, "ab", 10)
	assert.ErrorIs(t, err, ErrQueryTooShort)

	_, err = f.service.Search(ctx, "   a   ", 10)
	assert.ErrorIs(t, err, ErrQueryTooShort)

	_, err = f.service.Search(ctx, "valid query", 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestSearchGenreFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog())

	resp, err := f.service.Search(ctx, "trumpet piano highway", 4, WithGenre("jazz"))
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "Miles Davis", r.Metadata.Artist)
	}
}

func TestSearchYearRangeFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog())

	resp, err := f.service.Search(ctx, "highway night", 4, WithYearRange(1970, 1979))
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Metadata.ReleaseYear, 1970)
		assert.LessOrEqual(t, r.Metadata.ReleaseYear, 1979)
	}
}

func TestSearchFilterWithoutIndexFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, catalog())

	bare := New(vectorizer.NewHashing(), f.vectors, f.store)

	_, err := bare.Search(ctx, "highway night", 3, WithGenre("rock"))
	assert.Error(t, err)
}

func TestSearchMissingMetadataFails(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "melodex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v := vectorizer.NewHashing()
	vs := vectorstore.New(s, v.ModelVersion())

	id := uuid.New()
	_, err = s.InsertTracks(ctx, []model.Track{{ID: id, Title: "Ghost", Artist: "Nobody"}})
	require.NoError(t, err)

	vecs, err := v.Generate(ctx, []model.EmbeddingItem{{Title: "Ghost", Artist: "Nobody"}}, 1)
	require.NoError(t, err)

	_, err = vs.Upsert(ctx, []model.EmbeddingRecord{{TrackID: id, Vector: vecs[0]}})
	require.NoError(t, err)

	// Delete the row out from under the index. The cascade removes the
	// embedding row too, but the in-memory graph still holds the node.
	require.NoError(t, s.DeleteTrack(ctx, id))

	svc := New(v, vs, s)

	_, err = svc.Search(ctx, "ghost nobody", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
