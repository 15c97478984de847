// Package backfill computes and persists embeddings for tracks that have
// none under the current model version.
//
// The pipeline is idempotent: the (track, model_version) uniqueness
// constraint decides what "already done" means, so concurrent or repeated
// runs never fail and never duplicate rows. Tracks embedded under an older
// model version count as missing for the current one, which makes a model
// upgrade a plain re-run instead of a manual migration.
//
// Failure policy is fatal-batch: any error rolls back the in-flight batch
// and halts the run. Skipping a failing batch would leave an undetected gap
// in the embedding table, so completeness wins over availability here.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/melodex/model"
	"github.com/hupe1980/melodex/store"
	"github.com/hupe1980/melodex/vectorizer"
	"github.com/hupe1980/melodex/vectorstore"
)

const (
	// DefaultFetchSize bounds how many tracks one loop iteration pulls
	// from the table.
	DefaultFetchSize = 200

	// DefaultEncodeBatchSize is the sub-batch size handed to the
	// vectorizer, keeping accelerator memory per encode predictable.
	DefaultEncodeBatchSize = 32
)

// Options configures a pipeline.
type Options struct {
	// FetchSize is the tracks-per-iteration bound.
	FetchSize int

	// EncodeBatchSize is the vectorizer sub-batch size.
	EncodeBatchSize int

	// Limiter optionally throttles loop iterations so a bulk backfill
	// does not starve interactive search of encode slots.
	Limiter *rate.Limiter

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Report summarizes one pipeline run.
type Report struct {
	// Processed is the number of embedding rows actually inserted.
	Processed int

	// Duration is the wall time of the run.
	Duration time.Duration

	// Rate is tracks vectorized per second across the run.
	Rate float64
}

// Pipeline backfills the embedding table for one model version.
type Pipeline struct {
	store      *store.Store
	vectorizer vectorizer.Vectorizer
	vectors    *vectorstore.VectorStore
	opts       Options
}

// New creates a pipeline writing through vs with vectors from v.
func New(s *store.Store, v vectorizer.Vectorizer, vs *vectorstore.VectorStore, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		FetchSize:       DefaultFetchSize,
		EncodeBatchSize: DefaultEncodeBatchSize,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Pipeline{
		store:      s,
		vectorizer: v,
		vectors:    vs,
		opts:       opts,
	}
}

// Run drains the backlog of tracks without an embedding under the current
// model version. It terminates successfully when a fetch comes back empty,
// and halts with an error on the first failing batch.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	modelVersion := p.vectorizer.ModelVersion()
	logger := p.opts.Logger

	logger.Info("backfill started", "model_version", modelVersion)

	var (
		report     Report
		vectorized int
		start      = time.Now()
	)

	for {
		if p.opts.Limiter != nil {
			if err := p.opts.Limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		tracks, err := p.store.TracksWithoutEmbedding(ctx, modelVersion, p.opts.FetchSize)
		if err != nil {
			return report, fmt.Errorf("backfill halted: %w", err)
		}

		if len(tracks) == 0 {
			break
		}

		items := make([]model.EmbeddingItem, len(tracks))
		for i, t := range tracks {
			items[i] = model.EmbeddingItem{
				Title:  t.Title,
				Artist: t.Artist,
				Lyrics: t.Lyrics,
			}
		}

		t0 := time.Now()

		vectors, err := p.vectorizer.Generate(ctx, items, p.opts.EncodeBatchSize)
		if err != nil {
			return report, fmt.Errorf("backfill halted: %w", err)
		}

		encodeDuration := time.Since(t0)

		if len(vectors) != len(tracks) {
			return report, fmt.Errorf("backfill halted: got %d vectors for %d tracks", len(vectors), len(tracks))
		}

		records := make([]model.EmbeddingRecord, len(tracks))
		for i, t := range tracks {
			records[i] = model.EmbeddingRecord{
				TrackID:      t.ID,
				ModelVersion: modelVersion,
				Vector:       vectors[i],
			}
		}

		// One transaction per batch; a failure rolls back the whole
		// batch and stops the loop.
		saved, err := p.vectors.Upsert(ctx, records)
		if err != nil {
			return report, fmt.Errorf("backfill halted: %w", err)
		}

		report.Processed += saved
		vectorized += len(tracks)

		batchRate := float64(len(tracks)) / (encodeDuration.Seconds() + 1e-4)

		logger.Info("backfill batch saved",
			"saved", saved,
			"tracks_per_sec", fmt.Sprintf("%.1f", batchRate),
			"total_saved", report.Processed,
		)
	}

	report.Duration = time.Since(start)
	report.Rate = float64(vectorized) / (report.Duration.Seconds() + 1e-4)

	logger.Info("backfill complete",
		"processed", report.Processed,
		"duration", report.Duration.String(),
		"tracks_per_sec", fmt.Sprintf("%.1f", report.Rate),
	)

	return report, nil
}
