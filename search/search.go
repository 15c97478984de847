// Package search answers free-text similarity queries over the track catalog.
//
// A query is embedded with the same model that produced the stored vectors,
// matched against the ANN index, and joined with track metadata. The raw
// index distance is the negative inner product; this package converts it to a
// similarity score once, at the boundary, so every consumer sees
// higher-is-better values.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hupe1980/melodex/filterindex"
	"github.com/hupe1980/melodex/model"
	"github.com/hupe1980/melodex/store"
	"github.com/hupe1980/melodex/vectorizer"
	"github.com/hupe1980/melodex/vectorstore"
)

// MinQueryLength is the shortest accepted query after trimming.
const MinQueryLength = 3

// ErrQueryTooShort is returned for queries below MinQueryLength.
var ErrQueryTooShort = fmt.Errorf("query must be at least %d characters", MinQueryLength)

// ErrInvalidLimit is returned for non-positive limits.
var ErrInvalidLimit = errors.New("limit must be positive")

// overfetchFactor widens the ANN candidate list when a filter is active, so
// enough candidates survive filtering to fill the limit.
const overfetchFactor = 4

// Options configures the service.
type Options struct {
	// FilterIndex enables genre and release-year filters. Without it,
	// filtered queries fail.
	FilterIndex *filterindex.Index

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Service runs similarity searches.
type Service struct {
	vectorizer vectorizer.Vectorizer
	vectors    *vectorstore.VectorStore
	store      *store.Store
	opts       Options
}

// New creates a search service over the given vectorizer, index, and store.
func New(v vectorizer.Vectorizer, vs *vectorstore.VectorStore, s *store.Store, optFns ...func(o *Options)) *Service {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		vectorizer: v,
		vectors:    vs,
		store:      s,
		opts:       opts,
	}
}

// Query carries per-call options.
type Query struct {
	Filter filterindex.Filter
}

// WithGenre restricts results to one genre (case-insensitive).
func WithGenre(genre string) func(q *Query) {
	return func(q *Query) {
		q.Filter.Genre = genre
	}
}

// WithYearRange restricts results to release years in [from, to]. A zero
// bound is open on that side.
func WithYearRange(from, to int) func(q *Query) {
	return func(q *Query) {
		q.Filter.YearFrom = from
		q.Filter.YearTo = to
	}
}

// Search embeds the query and returns up to limit tracks ordered by
// descending similarity score.
//
// A matched track whose metadata row is missing is a data-integrity fault
// and fails the call; the index and the table must not disagree.
func (s *Service) Search(ctx context.Context, query string, limit int, optFns ...func(q *Query)) (model.SearchResponse, error) {
	var resp model.SearchResponse

	if len(strings.TrimSpace(query)) < MinQueryLength {
		return resp, ErrQueryTooShort
	}

	if limit <= 0 {
		return resp, ErrInvalidLimit
	}

	var q Query
	for _, fn := range optFns {
		fn(&q)
	}

	start := time.Now()

	vector, err := s.vectorizer.EmbedQuery(ctx, query)
	if err != nil {
		return resp, fmt.Errorf("failed to embed query: %w", err)
	}

	k := limit
	set := (*filterindex.Set)(nil)

	if !q.Filter.Empty() {
		if s.opts.FilterIndex == nil {
			return resp, errors.New("filtered search requires a filter index")
		}

		set = s.opts.FilterIndex.Matches(q.Filter)
		k = limit * overfetchFactor
	}

	neighbors, err := s.vectors.QueryNearest(ctx, vector, k)
	if err != nil {
		return resp, fmt.Errorf("ann query failed: %w", err)
	}

	results := make([]model.SearchResult, 0, limit)

	for _, n := range neighbors {
		if set != nil && !set.Contains(n.TrackID) {
			continue
		}

		track, err := s.store.GetTrack(ctx, n.TrackID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return resp, fmt.Errorf("index references missing track %s: %w", n.TrackID, err)
			}
			return resp, err
		}

		results = append(results, model.SearchResult{
			ID:       n.TrackID,
			Score:    score(n.Distance),
			Metadata: track.Metadata(),
		})

		if len(results) == limit {
			break
		}
	}

	resp.Results = results
	resp.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	resp.ModelVersion = s.vectors.ModelVersion()

	s.opts.Logger.Debug("search completed",
		"hits", len(results),
		"latency_ms", resp.LatencyMS,
	)

	return resp, nil
}

// score converts the index-native negative inner product into a similarity
// score. Unit-norm vectors bound the inner product to [-1, 1]; negative
// similarities carry no ranking value for retrieval, so the score is floored
// at zero and rounded to 4 decimal places.
func score(distance float32) float64 {
	sim := float64(-distance)
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}

	return math.Round(sim*10000) / 10000
}
