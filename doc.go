// Package melodex provides semantic similarity search over a music track
// catalog.
//
// Tracks and their embeddings live in SQLite; queries run against an
// in-memory HNSW graph over unit-norm 384-dimensional vectors, so the inner
// product is the cosine similarity. The Engine wires the pieces together:
//
//	cfg := config.Default()
//	eng, err := melodex.New(cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer eng.Close()
//
//	if err := eng.Start(ctx); err != nil {
//	    panic(err)
//	}
//
//	resp, err := eng.Search(ctx, "melancholic piano ballad", 10)
//
// Embeddings are computed by a pluggable vectorizer: local ONNX inference
// (all-MiniLM-L6-v2), a hosted embedding API, or a deterministic hashing
// embedder for tests and model-free deployments.
package melodex
