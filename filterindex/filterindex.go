// Package filterindex maintains an in-memory inverted index over track
// attributes for pre-filtered search.
//
// Each attribute value (a genre, a release year) maps to a roaring bitmap of
// compact track handles. A filter evaluates to one bitmap intersection, and
// ANN candidates are checked against it by membership, so filtering cost does
// not grow with the number of distinct attribute values.
package filterindex

import (
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
)

// Filter selects tracks by attribute. Zero values mean "no constraint".
type Filter struct {
	// Genre matches case-insensitively.
	Genre string

	// YearFrom and YearTo bound the release year inclusively. A zero bound
	// is open on that side.
	YearFrom int
	YearTo   int
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return f.Genre == "" && f.YearFrom == 0 && f.YearTo == 0
}

// Index is the inverted index. Safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	next    uint32
	byTrack map[uuid.UUID]uint32

	byGenre map[string]*roaring.Bitmap
	byYear  map[int]*roaring.Bitmap
}

// New creates an empty index.
func New() *Index {
	return &Index{
		byTrack: make(map[uuid.UUID]uint32),
		byGenre: make(map[string]*roaring.Bitmap),
		byYear:  make(map[int]*roaring.Bitmap),
	}
}

// Add registers a track's filterable attributes. Adding the same track again
// is a no-op.
func (idx *Index) Add(trackID uuid.UUID, genre string, releaseYear int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.byTrack[trackID]; ok {
		return
	}

	handle := idx.next
	idx.next++
	idx.byTrack[trackID] = handle

	if genre != "" {
		key := strings.ToLower(genre)
		bm, ok := idx.byGenre[key]
		if !ok {
			bm = roaring.New()
			idx.byGenre[key] = bm
		}
		bm.Add(handle)
	}

	if releaseYear != 0 {
		bm, ok := idx.byYear[releaseYear]
		if !ok {
			bm = roaring.New()
			idx.byYear[releaseYear] = bm
		}
		bm.Add(handle)
	}
}

// Len returns the number of registered tracks.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.byTrack)
}

// Matches evaluates a filter into a membership set. The set is a point-in-time
// snapshot; tracks added afterwards are not part of it.
func (idx *Index) Matches(f Filter) *Set {
	if f.Empty() {
		return &Set{all: true}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var parts []*roaring.Bitmap

	if f.Genre != "" {
		bm, ok := idx.byGenre[strings.ToLower(f.Genre)]
		if !ok {
			return &Set{bitmap: roaring.New(), byTrack: idx.byTrack}
		}
		parts = append(parts, bm)
	}

	if f.YearFrom != 0 || f.YearTo != 0 {
		years := roaring.New()
		for year, bm := range idx.byYear {
			if f.YearFrom != 0 && year < f.YearFrom {
				continue
			}
			if f.YearTo != 0 && year > f.YearTo {
				continue
			}
			years.Or(bm)
		}
		parts = append(parts, years)
	}

	result := parts[0].Clone()
	for _, bm := range parts[1:] {
		result.And(bm)
	}

	byTrack := make(map[uuid.UUID]uint32, len(idx.byTrack))
	for id, handle := range idx.byTrack {
		byTrack[id] = handle
	}

	return &Set{bitmap: result, byTrack: byTrack}
}

// Set is an evaluated filter.
type Set struct {
	all     bool
	bitmap  *roaring.Bitmap
	byTrack map[uuid.UUID]uint32
}

// Contains reports whether the track passes the filter. Tracks unknown to the
// index fail every non-empty filter.
func (s *Set) Contains(trackID uuid.UUID) bool {
	if s.all {
		return true
	}

	handle, ok := s.byTrack[trackID]
	if !ok {
		return false
	}

	return s.bitmap.Contains(handle)
}

// Cardinality returns the number of matching tracks, or -1 for the
// unconstrained set.
func (s *Set) Cardinality() int {
	if s.all {
		return -1
	}

	return int(s.bitmap.GetCardinality())
}
