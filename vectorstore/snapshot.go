package vectorstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"

	"github.com/hupe1980/melodex/blobstore"
	"github.com/hupe1980/melodex/hnsw"
)

// SnapshotName is the blob name under which the current index snapshot is
// stored. One snapshot per model version.
func SnapshotName(modelVersion string) string {
	return "snapshots/" + modelVersion + ".snap.s2"
}

// snapshot is the serialized form of the in-memory state. Track ids are
// stored as strings; uuid.UUID gob-encodes fine but strings keep the format
// inspectable.
type snapshot struct {
	ModelVersion string
	Graph        *hnsw.HNSW
	ByNode       map[uint32]string
}

// Snapshot serializes the graph and id mapping, compresses it with s2, and
// writes it through the blob store. Rebuilding a large graph from rows is
// minutes; restoring a snapshot is seconds.
func (vs *VectorStore) Snapshot(ctx context.Context, bs blobstore.Store) error {
	vs.mu.RLock()

	snap := snapshot{
		ModelVersion: vs.modelVersion,
		Graph:        vs.index,
		ByNode:       make(map[uint32]string, len(vs.byNode)),
	}
	for node, trackID := range vs.byNode {
		snap.ByNode[node] = trackID.String()
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(&snap)

	vs.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	compressed := s2.Encode(nil, buf.Bytes())

	if err := bs.Put(ctx, SnapshotName(vs.modelVersion), compressed); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	vs.logger.Info("index snapshot written",
		"model_version", vs.modelVersion,
		"vectors", len(snap.ByNode),
		"bytes", len(compressed),
	)

	return nil
}

// Restore loads the snapshot for the current model version from the blob
// store. blobstore.ErrNotFound passes through so callers can fall back to
// Rebuild.
func (vs *VectorStore) Restore(ctx context.Context, bs blobstore.Store) error {
	compressed, err := bs.Get(ctx, SnapshotName(vs.modelVersion))
	if err != nil {
		return err
	}

	raw, err := s2.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if snap.ModelVersion != vs.modelVersion {
		return fmt.Errorf("snapshot model version %q does not match %q", snap.ModelVersion, vs.modelVersion)
	}

	byNode := make(map[uint32]uuid.UUID, len(snap.ByNode))
	byTrack := make(map[uuid.UUID]uint32, len(snap.ByNode))

	for node, raw := range snap.ByNode {
		trackID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("corrupt snapshot: invalid track id %q: %w", raw, err)
		}
		byNode[node] = trackID
		byTrack[trackID] = node
	}

	vs.mu.Lock()
	vs.index = snap.Graph
	vs.byNode = byNode
	vs.byTrack = byTrack
	vs.mu.Unlock()

	vs.logger.Info("index snapshot restored",
		"model_version", vs.modelVersion,
		"vectors", len(byNode),
	)

	return nil
}
