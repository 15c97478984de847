// Package vectorstore is the thin numeric boundary between persisted
// embeddings and ANN search.
//
// Embedding rows live in SQLite, keyed by (track, model version) with a
// uniqueness constraint as the sole source of truth for "already embedded".
// Queries run against an in-memory HNSW graph built over the rows of the
// current model version. The raw distance handed to callers is the graph's
// native negative inner product (smaller = more similar); this package never
// reinterprets the sign.
package vectorstore

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/melodex/hnsw"
	"github.com/hupe1980/melodex/model"
	"github.com/hupe1980/melodex/queue"
	"github.com/hupe1980/melodex/store"
)

// DefaultEFSearch is the candidate list size for queries. Raising it buys
// recall at the cost of latency.
const DefaultEFSearch = 100

// Options configures the vector store.
type Options struct {
	// HNSW tunes graph construction (neighbor fan-out M, construction
	// effort EFConstruction).
	HNSW func(o *hnsw.Options)

	// EFSearch is the query-time candidate list size.
	EFSearch int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// VectorStore persists embeddings and answers nearest-neighbor queries.
type VectorStore struct {
	store        *store.Store
	modelVersion string
	efSearch     int
	logger       *slog.Logger

	hnswOpt func(o *hnsw.Options)

	mu      sync.RWMutex
	index   *hnsw.HNSW
	byNode  map[uint32]uuid.UUID
	byTrack map[uuid.UUID]uint32
}

// New creates a vector store over s for the given model version. Call
// Rebuild (or Restore) before querying.
func New(s *store.Store, modelVersion string, optFns ...func(o *Options)) *VectorStore {
	opts := Options{
		EFSearch: DefaultEFSearch,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	vs := &VectorStore{
		store:        s,
		modelVersion: modelVersion,
		efSearch:     opts.EFSearch,
		logger:       opts.Logger,
		hnswOpt:      opts.HNSW,
	}

	vs.resetLocked()

	return vs
}

// resetLocked installs a fresh empty graph. Callers must hold mu or have
// exclusive access.
func (vs *VectorStore) resetLocked() {
	if vs.hnswOpt != nil {
		vs.index = hnsw.New(model.Dimension, vs.hnswOpt)
	} else {
		vs.index = hnsw.New(model.Dimension)
	}
	vs.byNode = make(map[uint32]uuid.UUID)
	vs.byTrack = make(map[uuid.UUID]uint32)
}

// ModelVersion returns the model version this store serves.
func (vs *VectorStore) ModelVersion() string {
	return vs.modelVersion
}

// Len returns the number of indexed vectors.
func (vs *VectorStore) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	return vs.index.Len()
}

// Rebuild replaces the in-memory graph with one built from every persisted
// embedding of the current model version.
func (vs *VectorStore) Rebuild(ctx context.Context) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	vs.resetLocked()

	count := 0

	err := vs.store.LoadEmbeddings(ctx, vs.modelVersion, func(rec model.EmbeddingRecord) error {
		if err := vs.indexLocked(rec.TrackID, rec.Vector); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}

	vs.logger.Info("ann index rebuilt", "model_version", vs.modelVersion, "vectors", count)

	return nil
}

// Sync indexes every persisted embedding of the current model version that
// the graph does not hold yet. After a snapshot restore this picks up rows
// written between the snapshot and the restart; tracks already indexed are
// untouched. Returns the number of vectors added.
func (vs *VectorStore) Sync(ctx context.Context) (int, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	added := 0

	err := vs.store.LoadEmbeddings(ctx, vs.modelVersion, func(rec model.EmbeddingRecord) error {
		if _, ok := vs.byTrack[rec.TrackID]; ok {
			return nil
		}

		if err := vs.indexLocked(rec.TrackID, rec.Vector); err != nil {
			return err
		}

		added++

		return nil
	})
	if err != nil {
		return added, fmt.Errorf("failed to sync index: %w", err)
	}

	if added > 0 {
		vs.logger.Info("ann index synced", "model_version", vs.modelVersion, "added", added)
	}

	return added, nil
}

// indexLocked inserts one vector into the graph and records the id mapping.
// Tracks already present are skipped; the graph holds one node per track.
func (vs *VectorStore) indexLocked(trackID uuid.UUID, vector []float32) error {
	if _, ok := vs.byTrack[trackID]; ok {
		return nil
	}

	node, err := vs.index.Insert(vector)
	if err != nil {
		return err
	}

	vs.byNode[node] = trackID
	vs.byTrack[trackID] = node

	return nil
}

// Upsert persists a batch of embedding records in one all-or-nothing
// transaction and indexes the newly written vectors. Records whose
// (track, model_version) pair already exists are skipped silently, both in
// SQLite and in the graph. Returns the number of rows actually inserted.
func (vs *VectorStore) Upsert(ctx context.Context, records []model.EmbeddingRecord) (int, error) {
	// Default the version on a copy; the caller's slice stays untouched.
	recs := make([]model.EmbeddingRecord, len(records))
	copy(recs, records)

	for i := range recs {
		if recs[i].ModelVersion == "" {
			recs[i].ModelVersion = vs.modelVersion
		}
	}

	inserted, err := vs.store.UpsertEmbeddings(ctx, recs)
	if err != nil {
		return 0, err
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	for _, rec := range recs {
		if rec.ModelVersion != vs.modelVersion {
			continue
		}

		if err := vs.indexLocked(rec.TrackID, rec.Vector); err != nil {
			return inserted, fmt.Errorf("row persisted but not indexed for track %s: %w", rec.TrackID, err)
		}
	}

	return inserted, nil
}

// QueryNearest returns up to k neighbors ordered by ascending raw distance,
// i.e. descending similarity. Distance is the negative inner product as
// produced by the index; sign conversion is the caller's responsibility.
func (vs *VectorStore) QueryNearest(_ context.Context, vector []float32, k int) ([]model.Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	pq, err := vs.index.KNNSearch(vector, k, max(vs.efSearch, k))
	if err != nil {
		return nil, err
	}

	// The max-heap pops worst-first; fill back to front for ascending
	// distance. Nodes missing from the id mapping are dropped rather than
	// surfaced as phantom tracks.
	items := make([]*queue.PriorityQueueItem, pq.Len())
	for i := pq.Len() - 1; i >= 0; i-- {
		items[i], _ = heap.Pop(pq).(*queue.PriorityQueueItem)
	}

	neighbors := make([]model.Neighbor, 0, len(items))

	for _, item := range items {
		trackID, ok := vs.byNode[item.Node]
		if !ok {
			continue
		}

		neighbors = append(neighbors, model.Neighbor{
			TrackID:  trackID,
			Distance: item.Distance,
		})
	}

	return neighbors, nil
}
