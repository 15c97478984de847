// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search over track embeddings.
//
// The graph is tuned with two construction parameters: M (neighbor fan-out
// per node) and EFConstruction (candidate list size while building). Higher
// values cost more at build time and buy recall at query time. Search quality
// is controlled independently with the ef argument of KNNSearch.
//
// Distances follow the "smaller is more similar" convention. The default
// distance function is the negative inner product, which for unit-norm
// embeddings makes ascending distance equal descending cosine similarity.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/melodex/metric"
	"github.com/hupe1980/melodex/queue"
)

// ErrDimensionMismatch is returned when an inserted or queried vector does
// not match the dimension the graph was created with.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DistanceFunc calculates the distance between two vectors.
type DistanceFunc func(v1, v2 []float32) (float32, error)

// Node represents a node in the HNSW graph.
type Node struct {
	Connections [][]uint32 // Links to other nodes, one slice per layer
	Vector      []float32  // The embedded vector
	Layer       int        // Highest layer the node exists in
	ID          uint32     // Graph-internal identifier
}

// Options represents the options for configuring the graph.
type Options struct {
	// M is the number of established connections for every new element
	// during construction. The range M=12-48 works for most use cases;
	// high-dimensional embeddings profit from larger values.
	M int

	// EFConstruction is the size of the dynamic candidate list while
	// building the graph. Larger values build a better graph at higher
	// indexing cost.
	EFConstruction int

	// Heuristic selects the neighbor-selection strategy: the heuristic
	// algorithm (true) or naive closest-first selection (false).
	Heuristic bool

	// DistanceFunc is the distance function used for construction and
	// search. It must match the metric the stored vectors were prepared
	// for; mixing metrics silently corrupts the graph.
	DistanceFunc DistanceFunc
}

// DefaultOptions mirror the parameters used for the on-disk track embedding
// index (m=16, ef_construction=64, inner-product ops).
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 64,
	Heuristic:      true,
	DistanceFunc:   metric.NegativeInnerProduct,
}

// HNSW represents the Hierarchical Navigable Small World graph.
type HNSW struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point into the top layer
	maxLevel  int     // Current max level in use

	nodes []*Node

	opts Options

	mutex sync.RWMutex
}

// New creates a new HNSW instance with the given dimension and options.
func New(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero in the level factor:
		// 1 / log(1.0 * M) = 1 / 0
		opts.M = 2
	}

	return &HNSW{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ep:        0,
		maxLevel:  0,
		ml:        1 / math.Log(1.0*float64(opts.M)),
		nodes:     []*Node{{ID: 0, Layer: 0, Vector: make([]float32, dimension), Connections: make([][]uint32, 2*opts.M+1)}},
		opts:      opts,
	}
}

// Len returns the number of inserted vectors, excluding the sentinel
// entry point.
func (h *HNSW) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.nodes) - 1
}

// Dimension returns the vector dimension the graph was created with.
func (h *HNSW) Dimension() int {
	return h.dimension
}

// Insert inserts a new vector into the graph and returns its internal id.
func (h *HNSW) Insert(v []float32) (uint32, error) {
	if len(v) != h.dimension {
		return 0, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	// Copy so later mutation by the caller cannot corrupt the node.
	vectorCopy := make([]float32, len(v))
	copy(vectorCopy, v)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	id := uint32(len(h.nodes))

	node := &Node{
		ID:          id,
		Vector:      vectorCopy,
		Layer:       int(math.Floor(-math.Log(rand.Float64()) * h.ml)), //nolint:gosec
		Connections: make([][]uint32, h.mmax+1),
	}

	// Greedy descent through the layers above the node's top layer gives
	// the starting point for candidate search.
	currObj, currDist, err := h.findShortestPath(node)
	if err != nil {
		return 0, err
	}

	topCandidates := &queue.PriorityQueue{
		Order: false,
	}

	// For the node's layer and below, collect the closest candidates and
	// link against them.
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		if err := h.searchLayer(vectorCopy, &queue.PriorityQueueItem{Distance: currDist, Node: currObj.ID}, topCandidates, h.opts.EFConstruction, level); err != nil {
			return 0, err
		}

		if h.opts.Heuristic {
			if err := h.selectNeighboursHeuristic(topCandidates, h.opts.M, false); err != nil {
				return 0, err
			}
		} else {
			h.selectNeighboursSimple(topCandidates, h.opts.M)
		}

		node.Connections[level] = make([]uint32, topCandidates.Len())

		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			node.Connections[level][i] = candidate.Node
		}
	}

	h.nodes = append(h.nodes, node)

	// Back-link the neighbors, making the new node reachable.
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		for _, neighbourNode := range node.Connections[level] {
			if err := h.link(neighbourNode, node.ID, level); err != nil {
				return 0, err
			}
		}
	}

	if node.Layer > h.maxLevel {
		h.ep = node.ID
		h.maxLevel = node.Layer
	}

	return node.ID, nil
}

func (h *HNSW) findShortestPath(node *Node) (*Node, float32, error) {
	currObj := h.nodes[h.ep]

	currDist, err := h.opts.DistanceFunc(currObj.Vector, node.Vector)
	if err != nil {
		return nil, 0, err
	}

	for level := currObj.Layer; level > node.Layer; level-- {
		changed := true
		for changed {
			changed = false

			for _, nodeID := range currObj.Connections[level] {
				newObj := h.nodes[nodeID]

				newDist, err := h.opts.DistanceFunc(newObj.Vector, node.Vector)
				if err != nil {
					return nil, 0, err
				}

				if newDist < currDist {
					currObj = newObj
					currDist = newDist
					changed = true
				}
			}
		}
	}

	return currObj, currDist, nil
}

// KNNSearch performs a k-nearest neighbor search and returns a max-heap of
// at most k candidates; popping yields descending distance, the heap slice
// top is the best remaining match.
func (h *HNSW) KNNSearch(q []float32, k int, efSearch int) (*queue.PriorityQueue, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	topCandidates := &queue.PriorityQueue{
		Order: true,
	}

	heap.Init(topCandidates)

	currObj := h.nodes[h.ep]

	match, currDist, err := h.findEp(q, currObj)
	if err != nil {
		return nil, err
	}

	var node uint32
	if match != nil {
		node = match.ID
	}

	if err := h.searchLayer(q, &queue.PriorityQueueItem{Distance: currDist, Node: node}, topCandidates, max(efSearch, k), 0); err != nil {
		return nil, err
	}

	// The sentinel entry point holds no vector. Its zero distance beats any
	// candidate with negative similarity, so drop it before truncating or it
	// steals one of the k slots.
	filtered := topCandidates.Items[:0]
	for _, item := range topCandidates.Items {
		if item.Node != 0 {
			filtered = append(filtered, item)
		}
	}

	topCandidates.Items = filtered
	heap.Init(topCandidates)

	for topCandidates.Len() > k {
		_ = heap.Pop(topCandidates)
	}

	return topCandidates, nil
}

// BruteSearch performs an exact search over all nodes. It is the recall
// yardstick for tests and small datasets.
func (h *HNSW) BruteSearch(q []float32, k int) (*queue.PriorityQueue, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	topCandidates := &queue.PriorityQueue{
		Order: true,
	}

	heap.Init(topCandidates)

	for _, node := range h.nodes {
		if node.ID == 0 {
			continue
		}

		nodeDist, err := h.opts.DistanceFunc(q, node.Vector)
		if err != nil {
			return nil, err
		}

		if topCandidates.Len() < k {
			heap.Push(topCandidates, &queue.PriorityQueueItem{
				Node:     node.ID,
				Distance: nodeDist,
			})

			continue
		}

		largestDist, _ := topCandidates.Top().(*queue.PriorityQueueItem)

		if nodeDist < largestDist.Distance {
			heap.Pop(topCandidates)

			heap.Push(topCandidates, &queue.PriorityQueueItem{
				Node:     node.ID,
				Distance: nodeDist,
			})
		}
	}

	return topCandidates, nil
}

// link connects two nodes at the given level, pruning back to the connection
// budget when the neighbor list overflows.
func (h *HNSW) link(first uint32, second uint32, level int) error {
	maxConnections := h.mmax
	// The bottom layer allows double the connections.
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]
	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) > maxConnections {
		topCandidates := &queue.PriorityQueue{
			Order: false,
		}

		heap.Init(topCandidates)

		for _, id := range node.Connections[level] {
			distance, err := h.opts.DistanceFunc(node.Vector, h.nodes[id].Vector)
			if err != nil {
				return err
			}

			heap.Push(topCandidates, &queue.PriorityQueueItem{Node: id, Distance: distance})
		}

		if h.opts.Heuristic {
			if err := h.selectNeighboursHeuristic(topCandidates, maxConnections, true); err != nil {
				return err
			}
		} else {
			h.selectNeighboursSimple(topCandidates, maxConnections)
		}

		// Reorder the surviving connections, best match first.
		node.Connections[level] = make([]uint32, maxConnections)

		for i := maxConnections - 1; i >= 0; i-- {
			item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			node.Connections[level][i] = item.Node
		}
	}

	return nil
}

// searchLayer performs a best-first search in one layer of the graph.
func (h *HNSW) searchLayer(q []float32, ep *queue.PriorityQueueItem, topCandidates *queue.PriorityQueue, ef int, level int) error {
	var visited bitset.BitSet

	visited.Set(uint(ep.Node))

	candidates := &queue.PriorityQueue{
		Order: false,
	}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.Order = true // max-heap
	heap.Init(topCandidates)
	heap.Push(topCandidates, ep)

	for candidates.Len() > 0 {
		lowerBound := topCandidates.Top().(*queue.PriorityQueueItem).Distance

		candidate, _ := heap.Pop(candidates).(*queue.PriorityQueueItem)
		if candidate.Distance > lowerBound {
			break
		}

		node := h.nodes[candidate.Node]

		if len(node.Connections) > level {
			for _, n := range node.Connections[level] {
				if visited.Test(uint(n)) {
					continue
				}

				visited.Set(uint(n))

				distance, err := h.opts.DistanceFunc(q, h.nodes[n].Vector)
				if err != nil {
					return err
				}

				topDistance := topCandidates.Top().(*queue.PriorityQueueItem).Distance

				item := &queue.PriorityQueueItem{
					Distance: distance,
					Node:     n,
				}

				if topCandidates.Len() < ef {
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				} else if topDistance > distance {
					heap.Pop(topCandidates)
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				}
			}
		}
	}

	return nil
}

// selectNeighboursSimple keeps the M closest candidates.
func (h *HNSW) selectNeighboursSimple(topCandidates *queue.PriorityQueue, m int) {
	for topCandidates.Len() > m {
		_ = heap.Pop(topCandidates)
	}
}

// selectNeighboursHeuristic keeps candidates that improve graph navigability,
// preferring spread over raw closeness.
func (h *HNSW) selectNeighboursHeuristic(topCandidates *queue.PriorityQueue, m int, order bool) error {
	if topCandidates.Len() < m {
		return nil
	}

	newCandidates := &queue.PriorityQueue{}

	tmpCandidates := &queue.PriorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*queue.PriorityQueueItem, 0, m)

	if !order {
		newCandidates.Order = order
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= m {
			break
		}

		item, _ := heap.Pop(newCandidates).(*queue.PriorityQueueItem)
		hit := true

		// Reject a candidate when one of the already selected neighbors
		// lies closer to it than the candidate is to the query.
		for _, v := range items {
			distance, err := h.opts.DistanceFunc(h.nodes[v.Node].Vector, h.nodes[item.Node].Vector)
			if err != nil {
				return err
			}

			if distance < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			items = append(items, item)
		} else {
			heap.Push(tmpCandidates, item)
		}
	}

	// Backfill from the rejected candidates if the selection came up short.
	for len(items) < m && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*queue.PriorityQueueItem)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}

	return nil
}

// findEp walks the upper layers greedily and returns the entry point for the
// bottom-layer search.
func (h *HNSW) findEp(q []float32, currObj *Node) (*Node, float32, error) {
	currDist, err := h.opts.DistanceFunc(q, currObj.Vector)
	if err != nil {
		return nil, 0, err
	}

	var match *Node

	for level := h.maxLevel; level > 0; level-- {
		scan := true

		for scan {
			scan = false

			for _, nodeID := range currObj.Connections[level] {
				nodeDist, err := h.opts.DistanceFunc(h.nodes[nodeID].Vector, q)
				if err != nil {
					return nil, 0, err
				}

				if nodeDist < currDist {
					match = h.nodes[nodeID]
					currDist = nodeDist
					scan = true
				}
			}
		}
	}

	return match, currDist, nil
}
