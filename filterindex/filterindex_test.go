package filterindex

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEmptyFilterMatchesEverything(t *testing.T) {
	idx := New()

	id := uuid.New()
	idx.Add(id, "rock", 1991)

	set := idx.Matches(Filter{})
	assert.True(t, set.Contains(id))
	assert.True(t, set.Contains(uuid.New()))
	assert.Equal(t, -1, set.Cardinality())
}

func TestGenreFilter(t *testing.T) {
	idx := New()

	rock := uuid.New()
	jazz := uuid.New()
	idx.Add(rock, "Rock", 1991)
	idx.Add(jazz, "Jazz", 1959)

	set := idx.Matches(Filter{Genre: "rock"})
	assert.True(t, set.Contains(rock), "genre match is case-insensitive")
	assert.False(t, set.Contains(jazz))
	assert.Equal(t, 1, set.Cardinality())
}

func TestYearRangeFilter(t *testing.T) {
	idx := New()

	ids := map[int]uuid.UUID{
		1985: uuid.New(),
		1991: uuid.New(),
		2003: uuid.New(),
	}
	for year, id := range ids {
		idx.Add(id, "rock", year)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []int
	}{
		{"closed range", Filter{YearFrom: 1990, YearTo: 2000}, []int{1991}},
		{"open lower bound", Filter{YearTo: 1991}, []int{1985, 1991}},
		{"open upper bound", Filter{YearFrom: 1991}, []int{1991, 2003}},
		{"no matches", Filter{YearFrom: 2010}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := idx.Matches(tt.filter)
			assert.Equal(t, len(tt.want), set.Cardinality())
			for _, year := range tt.want {
				assert.True(t, set.Contains(ids[year]), "year %d", year)
			}
		})
	}
}

func TestCombinedFilter(t *testing.T) {
	idx := New()

	rock91 := uuid.New()
	jazz91 := uuid.New()
	rock03 := uuid.New()
	idx.Add(rock91, "rock", 1991)
	idx.Add(jazz91, "jazz", 1991)
	idx.Add(rock03, "rock", 2003)

	set := idx.Matches(Filter{Genre: "rock", YearFrom: 1990, YearTo: 2000})
	assert.True(t, set.Contains(rock91))
	assert.False(t, set.Contains(jazz91))
	assert.False(t, set.Contains(rock03))
}

func TestUnknownGenre(t *testing.T) {
	idx := New()
	idx.Add(uuid.New(), "rock", 1991)

	set := idx.Matches(Filter{Genre: "polka"})
	assert.Equal(t, 0, set.Cardinality())
}

func TestAddIsIdempotent(t *testing.T) {
	idx := New()

	id := uuid.New()
	idx.Add(id, "rock", 1991)
	idx.Add(id, "jazz", 2003)

	assert.Equal(t, 1, idx.Len())

	// The first registration wins.
	assert.False(t, idx.Matches(Filter{Genre: "jazz"}).Contains(id))
	assert.True(t, idx.Matches(Filter{Genre: "rock"}).Contains(id))
}

func TestTrackWithoutAttributes(t *testing.T) {
	idx := New()

	bare := uuid.New()
	idx.Add(bare, "", 0)

	assert.True(t, idx.Matches(Filter{}).Contains(bare))
	assert.False(t, idx.Matches(Filter{Genre: "rock"}).Contains(bare))
	assert.False(t, idx.Matches(Filter{YearFrom: 1990}).Contains(bare))
}
