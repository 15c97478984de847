package model

import (
	"time"

	"github.com/google/uuid"
)

// Dimension is the output dimension of the embedding model. Every vector in
// the system has exactly this many components.
const Dimension = 384

// Track represents one song row. The (Title, Artist) pair is unique;
// re-ingesting the same pair must not create a second row.
type Track struct {
	ID              uuid.UUID
	Title           string
	Artist          string
	Album           string
	Genre           string
	ReleaseYear     int
	Lyrics          string
	PopularityScore float64
	CreatedAt       time.Time
}

// Metadata returns the snapshot of track fields exposed in search results.
func (t *Track) Metadata() TrackMetadata {
	return TrackMetadata{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		ReleaseYear: t.ReleaseYear,
	}
}

// EmbeddingItem carries the track fields the vectorizer composes into one
// contextual string. Optional fields may be empty.
type EmbeddingItem struct {
	Title  string
	Artist string
	Lyrics string
}

// EmbeddingRecord is one persisted vector. At most one record exists per
// (TrackID, ModelVersion) pair; records are never mutated once written.
// Re-embedding under a new model version creates an independent record.
type EmbeddingRecord struct {
	TrackID      uuid.UUID
	ModelVersion string
	Vector       []float32
	CreatedAt    time.Time
}

// Neighbor is a raw ANN match. Distance is the index-native value: for
// inner-product mode this is the negative inner product, so smaller means
// more similar. Sign conversion is the search service's job.
type Neighbor struct {
	TrackID  uuid.UUID
	Distance float32
}

// TrackMetadata is the metadata snapshot attached to a search result.
type TrackMetadata struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	ReleaseYear int    `json:"release_year,omitempty"`
}

// SearchResult is one ranked hit. Score is a cosine-like similarity in [0,1]
// rounded to 4 decimal places.
type SearchResult struct {
	ID       uuid.UUID     `json:"id"`
	Score    float64       `json:"score"`
	Metadata TrackMetadata `json:"metadata"`
}

// SearchResponse is the full answer to one search call. Results are ordered
// by descending score.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	LatencyMS    float64        `json:"latency_ms"`
	ModelVersion string         `json:"model_version"`
}
