package melodex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"

	"github.com/hupe1980/melodex/backfill"
	"github.com/hupe1980/melodex/blobstore"
	minioblob "github.com/hupe1980/melodex/blobstore/minio"
	"github.com/hupe1980/melodex/config"
	"github.com/hupe1980/melodex/filterindex"
	"github.com/hupe1980/melodex/hnsw"
	"github.com/hupe1980/melodex/ingest"
	"github.com/hupe1980/melodex/model"
	"github.com/hupe1980/melodex/search"
	"github.com/hupe1980/melodex/store"
	"github.com/hupe1980/melodex/vectorizer"
	"github.com/hupe1980/melodex/vectorstore"
)

// ErrNotReady is returned by Search before Start has completed.
var ErrNotReady = errors.New("engine not ready: index not loaded")

// Engine wires the store, vectorizer, ANN index, and search service into one
// facade.
type Engine struct {
	logger *slog.Logger

	store      *store.Store
	vectorizer vectorizer.Vectorizer
	vectors    *vectorstore.VectorStore
	filters    *filterindex.Index
	blobs      blobstore.Store
	searcher   *search.Service
	pipeline   *backfill.Pipeline
	loader     *ingest.Loader

	ready atomic.Bool
}

// New builds an engine from the configuration. Call Start to load the index
// before searching, and Close to release the model and database.
func New(cfg config.Config, optFns ...Option) (*Engine, error) {
	var o options
	for _, fn := range optFns {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	v := o.vectorizer
	if v == nil {
		v, err = buildVectorizer(cfg.Vectorizer, logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	bs := o.blobs
	if bs == nil {
		bs, err = buildBlobStore(cfg.Snapshots)
		if err != nil {
			_ = v.Close()
			_ = s.Close()
			return nil, err
		}
	}

	hnswOpt := o.hnswOpt
	if hnswOpt == nil {
		hnswOpt = func(ho *hnsw.Options) {
			ho.M = cfg.Index.M
			ho.EFConstruction = cfg.Index.EFConstruction
		}
	}

	vs := vectorstore.New(s, v.ModelVersion(), func(vo *vectorstore.Options) {
		vo.HNSW = hnswOpt
		vo.EFSearch = cfg.Index.EFSearch
		vo.Logger = logger
	})

	filters := filterindex.New()

	limiter := o.limiter
	if limiter == nil && cfg.Backfill.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Backfill.RatePerSecond), 1)
	}

	eng := &Engine{
		logger:     logger,
		store:      s,
		vectorizer: v,
		vectors:    vs,
		filters:    filters,
		blobs:      bs,
		searcher: search.New(v, vs, s, func(so *search.Options) {
			so.FilterIndex = filters
			so.Logger = logger
		}),
		pipeline: backfill.New(s, v, vs, func(bo *backfill.Options) {
			bo.FetchSize = cfg.Backfill.FetchSize
			bo.EncodeBatchSize = cfg.Backfill.EncodeBatchSize
			bo.Limiter = limiter
			bo.Logger = logger
		}),
		loader: ingest.New(s, func(lo *ingest.Options) {
			lo.Logger = logger
		}),
	}

	return eng, nil
}

func buildVectorizer(cfg config.VectorizerConfig, logger *slog.Logger) (vectorizer.Vectorizer, error) {
	switch cfg.Backend {
	case "minilm":
		return vectorizer.NewMiniLM(vectorizer.MiniLMOptions{
			ModelPath:       cfg.ModelPath,
			OnnxLibraryPath: cfg.OnnxLibraryPath,
			Logger:          logger,
		})
	case "openai":
		return vectorizer.NewOpenAI(vectorizer.OpenAIOptions{
			APIKey: cfg.OpenAIAPIKey,
		}), nil
	case "hashing":
		return vectorizer.NewHashing(), nil
	default:
		return nil, fmt.Errorf("unknown vectorizer backend %q", cfg.Backend)
	}
}

func buildBlobStore(cfg config.SnapshotConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "local":
		return blobstore.NewLocalStore(cfg.Dir)
	case "minio":
		client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		return minioblob.NewStore(client, cfg.Bucket, ""), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// Start loads the ANN index, preferring a snapshot and falling back to a full
// rebuild from the embedding rows, then builds the attribute filter index.
// The engine reports ready only after Start returns nil.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.vectors.Restore(ctx, e.blobs); err != nil {
		if !blobstore.IsNotFound(err) {
			e.logger.Warn("snapshot restore failed, rebuilding from rows", "error", err)
		}

		if err := e.vectors.Rebuild(ctx); err != nil {
			return fmt.Errorf("failed to load index: %w", err)
		}
	} else if err := e.syncAfterRestore(ctx); err != nil {
		return err
	}

	if err := e.refreshFilters(ctx); err != nil {
		return err
	}

	e.ready.Store(true)

	e.logger.Info("engine ready",
		"model_version", e.vectorizer.ModelVersion(),
		"device", string(e.vectorizer.Device()),
		"vectors", e.vectors.Len(),
	)

	return nil
}

// syncAfterRestore reconciles a restored snapshot with the embedding rows.
// A snapshot only covers rows up to the last Reindex; anything backfilled
// since exists in SQLite but not in the restored graph and would be silently
// unsearchable. The row count is the cheap staleness check; on mismatch the
// missing vectors are indexed from the rows.
func (e *Engine) syncAfterRestore(ctx context.Context) error {
	count, err := e.store.CountEmbeddings(ctx, e.vectorizer.ModelVersion())
	if err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}

	if int(count) == e.vectors.Len() {
		return nil
	}

	if _, err := e.vectors.Sync(ctx); err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	return nil
}

// refreshFilters registers every track's attributes. Add is idempotent, so
// re-running after an ingest only picks up new tracks.
func (e *Engine) refreshFilters(ctx context.Context) error {
	return e.store.ForEachTrack(ctx, func(t model.Track) error {
		e.filters.Add(t.ID, t.Genre, t.ReleaseYear)
		return nil
	})
}

// Ready reports whether the index is loaded and queries can be served.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// ModelVersion returns the active embedding model identifier.
func (e *Engine) ModelVersion() string {
	return e.vectorizer.ModelVersion()
}

// Device returns the compute device the vectorizer selected.
func (e *Engine) Device() vectorizer.Device {
	return e.vectorizer.Device()
}

// Search answers a free-text similarity query.
func (e *Engine) Search(ctx context.Context, query string, limit int, optFns ...func(q *search.Query)) (model.SearchResponse, error) {
	if !e.Ready() {
		return model.SearchResponse{}, ErrNotReady
	}

	return e.searcher.Search(ctx, query, limit, optFns...)
}

// Ingest loads a CSV catalog and registers the new tracks with the filter
// index. Embeddings are not computed here; run Backfill afterwards.
func (e *Engine) Ingest(ctx context.Context, r io.Reader) (ingest.Report, error) {
	report, err := e.loader.Load(ctx, r)
	if err != nil {
		return report, err
	}

	if err := e.refreshFilters(ctx); err != nil {
		return report, err
	}

	return report, nil
}

// Backfill embeds every track that lacks a vector under the current model
// version.
func (e *Engine) Backfill(ctx context.Context) (backfill.Report, error) {
	return e.pipeline.Run(ctx)
}

// Reindex rebuilds the ANN graph from the embedding rows and writes a fresh
// snapshot.
func (e *Engine) Reindex(ctx context.Context) error {
	if err := e.vectors.Rebuild(ctx); err != nil {
		return err
	}

	return e.vectors.Snapshot(ctx, e.blobs)
}

// Snapshot writes the current in-memory index through the blob store.
func (e *Engine) Snapshot(ctx context.Context) error {
	return e.vectors.Snapshot(ctx, e.blobs)
}

// Close releases the model and the database. The engine stops reporting
// ready first, so an HTTP layer draining requests fails fast instead of
// hitting a closed store.
func (e *Engine) Close() error {
	e.ready.Store(false)

	var firstErr error

	if err := e.vectorizer.Close(); err != nil {
		firstErr = err
	}

	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
