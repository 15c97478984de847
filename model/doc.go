// Package model defines core types used throughout Melodex.
//
// # Persistent Types
//
//   - Track: one song with its catalog metadata, unique on (Title, Artist)
//   - EmbeddingRecord: one vector per (TrackID, ModelVersion) pair
//
// # Ephemeral Types
//
//   - EmbeddingItem: the fields of a track handed to the vectorizer
//   - Neighbor: raw ANN match (track id + index distance)
//   - SearchResult / SearchResponse: ranked results assembled per query
package model
