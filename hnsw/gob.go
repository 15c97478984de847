package hnsw

import (
	"bytes"
	"encoding/gob"

	"github.com/hupe1980/melodex/metric"
)

// Compile time checks to ensure HNSW satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*HNSW)(nil)
	_ gob.GobDecoder = (*HNSW)(nil)
)

// gobOptions is the serializable subset of Options. DistanceFunc is not
// encodable; a decoded graph falls back to the default metric, so snapshots
// must only be restored with the metric they were built with.
type gobOptions struct {
	M              int
	EFConstruction int
	Heuristic      bool
}

// GobEncode serializes the graph for snapshotting.
func (h *HNSW) GobEncode() ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(h.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ml); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ep); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.maxLevel); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nodes); err != nil {
		return nil, err
	}

	if err := encoder.Encode(gobOptions{
		M:              h.opts.M,
		EFConstruction: h.opts.EFConstruction,
		Heuristic:      h.opts.Heuristic,
	}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores a snapshotted graph.
func (h *HNSW) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&h.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ml); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ep); err != nil {
		return err
	}

	if err := decoder.Decode(&h.maxLevel); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nodes); err != nil {
		return err
	}

	var opts gobOptions
	if err := decoder.Decode(&opts); err != nil {
		return err
	}

	h.opts.M = opts.M
	h.opts.EFConstruction = opts.EFConstruction
	h.opts.Heuristic = opts.Heuristic

	if h.opts.DistanceFunc == nil {
		h.opts.DistanceFunc = metric.NegativeInnerProduct
	}

	h.mmax = h.opts.M
	h.mmax0 = 2 * h.opts.M

	return nil
}
