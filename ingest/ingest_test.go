package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/melodex/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "melodex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	csv := strings.Join([]string{
		"title,artist,album,genre,release_year,lyrics,popularity_score",
		`Thunder Road,Bruce Springsteen,Born to Run,rock,1975,"highway night",0.91`,
		"Blue in Green,Miles Davis,Kind of Blue,jazz,1959,,0.85",
	}, "\n")

	report, err := New(s).Load(ctx, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Read)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 0, report.Skipped)

	count, err := s.CountTracks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestLoadColumnOrderIndependent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	csv := strings.Join([]string{
		"genre,artist,title",
		"rock,Deep Purple,Highway Star",
	}, "\n")

	report, err := New(s).Load(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
}

func TestLoadSkipsIncompleteRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	csv := strings.Join([]string{
		"title,artist",
		"Thunder Road,Bruce Springsteen",
		",Miles Davis",
		"So What,",
		"Highway Star,Deep Purple",
	}, "\n")

	report, err := New(s).Load(ctx, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 4, report.Read)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 2, report.Skipped)
}

func TestLoadSkipsDuplicatePairs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	csv := strings.Join([]string{
		"title,artist",
		"Thunder Road,Bruce Springsteen",
		"Thunder Road,Bruce Springsteen",
	}, "\n")

	report, err := New(s).Load(ctx, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Read)
	assert.Equal(t, 1, report.Inserted)
}

func TestLoadMissingHeader(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := New(s).Load(ctx, strings.NewReader("title,album\nX,Y"))
	assert.ErrorIs(t, err, ErrMissingHeader)

	_, err = New(s).Load(ctx, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestLoadInvalidYearSkipsRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	csv := strings.Join([]string{
		"title,artist,release_year",
		"Thunder Road,Bruce Springsteen,not-a-year",
		"Highway Star,Deep Purple,1972",
	}, "\n")

	report, err := New(s).Load(ctx, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Skipped)
}
