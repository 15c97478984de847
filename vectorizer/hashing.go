package vectorizer

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/melodex/metric"
	"github.com/hupe1980/melodex/model"
)

// HashingModelVersion tags vectors produced by the hashing embedder. It must
// never collide with a real model identifier: hashed vectors and model
// vectors live in incompatible spaces.
const HashingModelVersion = "hashing-fnv-v1"

// Hashing is a deterministic, dependency-free embedder: tokens are hashed
// into buckets of a 384-dim vector which is then L2-normalized. It is not a
// semantic model; it exists as a fallback when no ONNX model is configured
// and as the test double for everything downstream of the vectorizer.
type Hashing struct {
	modelVersion string
	sem          *semaphore.Weighted
}

var _ Vectorizer = (*Hashing)(nil)

// HashingOptions configures the hashing embedder.
type HashingOptions struct {
	// ModelVersion overrides the version tag. Useful for exercising
	// multi-version behavior downstream.
	ModelVersion string
}

// NewHashing creates the hashing embedder.
func NewHashing(optFns ...func(o *HashingOptions)) *Hashing {
	opts := HashingOptions{
		ModelVersion: HashingModelVersion,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Hashing{
		modelVersion: opts.ModelVersion,
		sem:          semaphore.NewWeighted(1),
	}
}

// Generate embeds a batch of tracks, one vector per item in input order.
// The batch size is accepted for contract parity; hashing has no memory
// pressure to bound.
func (h *Hashing) Generate(ctx context.Context, items []model.EmbeddingItem, batchSize int) ([][]float32, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	vectors := make([][]float32, len(items))
	for i, item := range items {
		vectors[i] = embedOne(ComposeText(item))
	}

	return vectors, nil
}

// EmbedQuery embeds one free-text query.
func (h *Hashing) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	return embedOne(text), nil
}

// Dimension returns the embedding dimension.
func (h *Hashing) Dimension() int {
	return Dimension
}

// ModelVersion returns the hashing version tag.
func (h *Hashing) ModelVersion() string {
	return h.modelVersion
}

// Device always reports CPU.
func (h *Hashing) Device() Device {
	return DeviceCPU
}

// Close is a no-op.
func (h *Hashing) Close() error {
	return nil
}

func embedOne(text string) []float32 {
	vector := make([]float32, Dimension)

	for _, tok := range tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(tok))
		vector[int(hasher.Sum64()%uint64(Dimension))]++
	}

	// Zero-norm happens only for token-free input; the zero vector is the
	// honest answer there.
	metric.NormalizeL2InPlace(vector)

	return vector
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}

	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}
