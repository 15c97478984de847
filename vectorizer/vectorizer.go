// Package vectorizer turns track metadata and free-text queries into
// unit-norm 384-dimensional embeddings.
//
// All implementations share the same input contract: each track is rendered
// into one contextual string ("Title: ... | Artist: ... | Lyrics: ...") so
// the model sees labeled fields instead of raw concatenation. Output vectors
// are L2-normalized, which lets downstream consumers use a plain inner
// product as cosine similarity.
//
// Encoding is serialized per process: concurrent callers funnel through a
// single-slot semaphore so peak accelerator memory stays bounded under load.
package vectorizer

import (
	"context"
	"strings"

	"github.com/hupe1980/melodex/model"
)

const (
	// Dimension is the embedding dimension every implementation must
	// produce. A model with a different native dimension is a fatal
	// configuration error at load time.
	Dimension = model.Dimension

	// MaxSeqLength caps the model input in tokens.
	MaxSeqLength = 256

	// lyricsBudget hard-truncates lyrics in characters before they reach
	// the model, independent of the token cap, so the title/artist
	// preamble always fits within MaxSeqLength.
	lyricsBudget = 1000
)

// DefaultBatchSize is the encode batch size used when callers have no better
// number. It is always passed explicitly so memory behavior stays
// predictable; implementations never fall back to an adaptive default.
const DefaultBatchSize = 32

// Vectorizer produces fixed-dimension embeddings for tracks and queries.
//
// Generate returns exactly one vector per input item, order-preserving.
// EmbedQuery is the one-item case for search queries.
type Vectorizer interface {
	Generate(ctx context.Context, items []model.EmbeddingItem, batchSize int) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the output dimension (always 384).
	Dimension() int

	// ModelVersion identifies the model that produced the vectors. It tags
	// every persisted embedding row.
	ModelVersion() string

	// Device reports the compute device selected at construction.
	Device() Device

	// Close releases model resources.
	Close() error
}

var newlineReplacer = strings.NewReplacer("\n", " ", "\r", " ")

// ComposeText renders one track into the contextual string handed to the
// model. Missing title/artist default to "unknown"; lyrics are whitespace
// normalized and truncated to the character budget.
func ComposeText(item model.EmbeddingItem) string {
	title := item.Title
	if title == "" {
		title = "unknown"
	}

	artist := item.Artist
	if artist == "" {
		artist = "unknown"
	}

	lyrics := strings.TrimSpace(newlineReplacer.Replace(item.Lyrics))
	if runes := []rune(lyrics); len(runes) > lyricsBudget {
		lyrics = string(runes[:lyricsBudget])
	}

	return "Title: " + title + " | Artist: " + artist + " | Lyrics: " + lyrics
}

// composeBatch renders every item of a batch.
func composeBatch(items []model.EmbeddingItem) []string {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = ComposeText(item)
	}
	return texts
}
