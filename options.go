package melodex

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/hupe1980/melodex/blobstore"
	"github.com/hupe1980/melodex/hnsw"
	"github.com/hupe1980/melodex/vectorizer"
)

type options struct {
	logger     *slog.Logger
	vectorizer vectorizer.Vectorizer
	blobs      blobstore.Store
	hnswOpt    func(o *hnsw.Options)
	limiter    *rate.Limiter
}

// Option configures Engine construction.
type Option func(*options)

// WithLogger overrides the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithVectorizer injects a vectorizer instead of building one from the
// configuration. The engine takes ownership and closes it on Close.
func WithVectorizer(v vectorizer.Vectorizer) Option {
	return func(o *options) {
		o.vectorizer = v
	}
}

// WithBlobStore injects the snapshot blob store instead of building one from
// the configuration.
func WithBlobStore(bs blobstore.Store) Option {
	return func(o *options) {
		o.blobs = bs
	}
}

// WithHNSWOptions tunes graph construction beyond what the configuration
// exposes.
func WithHNSWOptions(fn func(o *hnsw.Options)) Option {
	return func(o *options) {
		o.hnswOpt = fn
	}
}

// WithRateLimit throttles backfill batches, overriding the configured rate.
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = limiter
	}
}
