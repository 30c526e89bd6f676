package ann

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/simidx/distance"
	"github.com/hupe1980/simidx/queue"
)

// hnswMaxLayer bounds the randomly drawn node level.
const hnswMaxLayer = 31

// HNSWOptions contains options for configuring the HNSW index.
type HNSWOptions struct {
	// M is the number of neighbor connections per node and layer.
	// Layer 0 allows twice as many. Reasonable range is 8 to 64.
	M int

	// EFConstruction is the size of the dynamic candidate list while
	// building the graph. Larger values yield a better graph at the cost
	// of slower inserts.
	EFConstruction int

	// EFSearch is the size of the dynamic candidate list during queries.
	// It is raised to k when a query asks for more results.
	EFSearch int

	// DistanceFunc is the distance function used to compare vectors.
	DistanceFunc distance.Func

	// Normalize controls whether vectors are L2-normalized on insert and
	// queries on search. Must stay enabled when DistanceFunc assumes unit
	// vectors, as the default does.
	Normalize bool

	// MaxElements caps the number of stored vectors. Zero means unlimited.
	MaxElements int

	// RandomSeed seeds the level generator. Zero derives a seed from the
	// clock; fix it to make graph construction reproducible.
	RandomSeed int64
}

// DefaultHNSWOptions holds the default options for the HNSW index.
var DefaultHNSWOptions = HNSWOptions{
	M:              16,
	EFConstruction: 200,
	EFSearch:       64,
	DistanceFunc:   distance.CosineUnit,
	Normalize:      true,
}

// hnswNode is a single element of the graph. Nodes are addressed by slot,
// their position in the nodes slice; the external id only matters at the
// API boundary.
type hnswNode struct {
	id     uint64
	vector []float32
	level  int

	// friends[l] holds the slots of the node's neighbors at layer l.
	friends [][]uint32
}

// HNSW is an approximate index over a hierarchical navigable small world
// graph. Inserts place each node on a randomly drawn stack of layers;
// searches descend greedily through the sparse upper layers and finish
// with a beam search at layer 0.
type HNSW struct {
	mu   sync.RWMutex
	dim  int
	opts HNSWOptions

	// nodes is indexed by slot. Removed slots hold nil until reused.
	nodes []*hnswNode
	slots map[uint64]uint32
	free  []uint32

	entry    int32 // slot of the entry point, -1 when empty
	maxLevel int
	count    int

	levelMul float64
	rng      *rand.Rand
}

// NewHNSW creates a new HNSW index for vectors of the given dimension.
func NewHNSW(dimension int, optFns ...func(o *HNSWOptions)) (*HNSW, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("ann: dimension must be positive, got %d", dimension)
	}

	opts := DefaultHNSWOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		opts.M = DefaultHNSWOptions.M
	}

	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultHNSWOptions.EFConstruction
	}

	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultHNSWOptions.EFSearch
	}

	if opts.DistanceFunc == nil {
		opts.DistanceFunc = distance.CosineUnit
	}

	seed := opts.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &HNSW{
		dim:      dimension,
		opts:     opts,
		slots:    make(map[uint64]uint32),
		entry:    -1,
		levelMul: 1 / math.Log(float64(opts.M)),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Upsert adds a vector under the given id, replacing any existing vector.
func (h *HNSW) Upsert(id uint64, vector []float32) error {
	if len(vector) != h.dim {
		return &ErrDimensionMismatch{Expected: h.dim, Actual: len(vector)}
	}

	vec, err := prepareVector(vector, h.opts.Normalize)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if slot, ok := h.slots[id]; ok {
		// Replace by remove and reinsert so the graph relinks around
		// the new position of the vector.
		h.removeLocked(slot)
	} else if h.opts.MaxElements > 0 && h.count >= h.opts.MaxElements {
		return ErrCapacityExceeded
	}

	h.insertLocked(id, vec)

	return nil
}

// Delete removes the id from the index and reports whether it was present.
func (h *HNSW) Delete(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	slot, ok := h.slots[id]
	if !ok {
		return false
	}

	h.removeLocked(slot)

	return true
}

// Search returns up to k candidates ordered by ascending distance.
//
// The filter gates which ids may appear in the result but never blocks
// traversal, so searches stay connected even when most of the graph is
// filtered out. Heavily filtered searches may return fewer than k results;
// raising EFSearch improves their recall.
func (h *HNSW) Search(query []float32, k int, filter FilterFunc) ([]Candidate, error) {
	if len(query) != h.dim {
		return nil, &ErrDimensionMismatch{Expected: h.dim, Actual: len(query)}
	}

	if k <= 0 {
		return nil, nil
	}

	q, err := prepareVector(query, h.opts.Normalize)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entry < 0 {
		return nil, nil
	}

	ef := h.opts.EFSearch
	if ef < k {
		ef = k
	}

	curr := uint32(h.entry)
	currDist := h.opts.DistanceFunc(q, h.nodes[curr].vector)

	for l := h.maxLevel; l > 0; l-- {
		curr, currDist = h.greedyClosest(q, curr, currDist, l)
	}

	found := h.searchLayer(q, []uint32{curr}, ef, 0, filter)

	results := make([]Candidate, 0, len(found))

	for _, slot := range found {
		node := h.nodes[slot]
		if node == nil {
			continue
		}

		results = append(results, Candidate{ID: node.id, Distance: h.opts.DistanceFunc(q, node.vector)})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// Len returns the number of stored vectors.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.count
}

// Reset removes all vectors, keeping the configuration.
func (h *HNSW) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nodes = nil
	h.free = nil
	h.slots = make(map[uint64]uint32)
	h.entry = -1
	h.maxLevel = 0
	h.count = 0
}

// Dimension returns the configured vector dimension.
func (h *HNSW) Dimension() int {
	return h.dim
}

// maxConns returns the connection limit for a layer.
func (h *HNSW) maxConns(layer int) int {
	if layer == 0 {
		return 2 * h.opts.M
	}

	return h.opts.M
}

// randomLevel draws a node level from an exponential distribution so that
// each layer holds roughly 1/M of the layer below.
func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}

	level := int(-math.Log(r) * h.levelMul)
	if level > hnswMaxLayer {
		level = hnswMaxLayer
	}

	return level
}

// allocSlot places the node in a free slot, growing the slice when none is
// available, and returns the slot.
func (h *HNSW) allocSlot(node *hnswNode) uint32 {
	if n := len(h.free); n > 0 {
		slot := h.free[n-1]
		h.free = h.free[:n-1]
		h.nodes[slot] = node

		return slot
	}

	h.nodes = append(h.nodes, node)

	return uint32(len(h.nodes) - 1)
}

func (h *HNSW) insertLocked(id uint64, vec []float32) {
	level := h.randomLevel()

	node := &hnswNode{
		id:      id,
		vector:  vec,
		level:   level,
		friends: make([][]uint32, level+1),
	}

	slot := h.allocSlot(node)
	h.slots[id] = slot
	h.count++

	if h.entry < 0 {
		h.entry = int32(slot)
		h.maxLevel = level

		return
	}

	curr := uint32(h.entry)
	currDist := h.opts.DistanceFunc(vec, h.nodes[curr].vector)

	// Descend greedily through the layers the new node does not reach.
	for l := h.maxLevel; l > level; l-- {
		curr, currDist = h.greedyClosest(vec, curr, currDist, l)
	}

	// Connect the node on every layer it participates in.
	eps := []uint32{curr}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, eps, h.opts.EFConstruction, l, nil)

		neighbors := h.selectClosest(vec, candidates, h.maxConns(l))
		node.friends[l] = append([]uint32(nil), neighbors...)

		for _, n := range neighbors {
			h.link(n, slot, l)
		}

		if len(candidates) > 0 {
			eps = candidates
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = int32(slot)
	}
}

// greedyClosest walks a single layer toward q until no neighbor of the
// current node is closer.
func (h *HNSW) greedyClosest(q []float32, start uint32, startDist float32, layer int) (uint32, float32) {
	curr, currDist := start, startDist

	for {
		node := h.nodes[curr]
		if node == nil || layer >= len(node.friends) {
			return curr, currDist
		}

		next, nextDist := curr, currDist

		for _, f := range node.friends[layer] {
			fn := h.nodes[f]
			if fn == nil {
				continue
			}

			if d := h.opts.DistanceFunc(q, fn.vector); d < nextDist {
				next, nextDist = f, d
			}
		}

		if next == curr {
			return curr, currDist
		}

		curr, currDist = next, nextDist
	}
}

// searchLayer runs a beam search on a single layer, starting from eps and
// keeping the ef closest admitted slots. The filter only gates admission
// into the result set; traversal crosses filtered-out nodes.
func (h *HNSW) searchLayer(q []float32, eps []uint32, ef, layer int, filter FilterFunc) []uint32 {
	visited := bitset.New(uint(len(h.nodes)))

	candidates := queue.NewMin(ef)
	results := queue.NewMax(ef)

	for _, ep := range eps {
		if visited.Test(uint(ep)) {
			continue
		}
		visited.Set(uint(ep))

		node := h.nodes[ep]
		if node == nil {
			continue
		}

		d := h.opts.DistanceFunc(q, node.vector)
		heap.Push(candidates, &queue.PriorityQueueItem{Node: uint64(ep), Distance: d})

		if filter == nil || filter(node.id) {
			heap.Push(results, &queue.PriorityQueueItem{Node: uint64(ep), Distance: d})
		}
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(*queue.PriorityQueueItem)

		if results.Len() >= ef {
			if worst := results.Top(); worst != nil && closest.Distance > worst.Distance {
				break
			}
		}

		node := h.nodes[uint32(closest.Node)]
		if node == nil || layer >= len(node.friends) {
			continue
		}

		for _, f := range node.friends[layer] {
			if visited.Test(uint(f)) {
				continue
			}
			visited.Set(uint(f))

			fn := h.nodes[f]
			if fn == nil {
				continue
			}

			d := h.opts.DistanceFunc(q, fn.vector)

			admit := results.Len() < ef
			if !admit {
				if worst := results.Top(); worst != nil && d < worst.Distance {
					admit = true
				}
			}

			if !admit {
				continue
			}

			heap.Push(candidates, &queue.PriorityQueueItem{Node: uint64(f), Distance: d})

			if filter == nil || filter(fn.id) {
				heap.Push(results, &queue.PriorityQueueItem{Node: uint64(f), Distance: d})

				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]uint32, 0, results.Len())

	for _, item := range results.Items {
		out = append(out, uint32(item.Node))
	}

	return out
}

// selectClosest keeps the max closest slots to q, ordered by ascending
// distance.
func (h *HNSW) selectClosest(q []float32, slots []uint32, max int) []uint32 {
	type scored struct {
		slot uint32
		dist float32
	}

	ranked := make([]scored, 0, len(slots))

	for _, s := range slots {
		node := h.nodes[s]
		if node == nil {
			continue
		}

		ranked = append(ranked, scored{slot: s, dist: h.opts.DistanceFunc(q, node.vector)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].dist < ranked[j].dist
	})

	if len(ranked) > max {
		ranked = ranked[:max]
	}

	out := make([]uint32, len(ranked))
	for i, s := range ranked {
		out[i] = s.slot
	}

	return out
}

// link adds neighbor to the slot's friend list at the given layer, pruning
// the list back to the layer's connection limit when it overflows.
func (h *HNSW) link(slot, neighbor uint32, layer int) {
	node := h.nodes[slot]
	if node == nil || layer >= len(node.friends) {
		return
	}

	for _, f := range node.friends[layer] {
		if f == neighbor {
			return
		}
	}

	node.friends[layer] = append(node.friends[layer], neighbor)

	if limit := h.maxConns(layer); len(node.friends[layer]) > limit {
		node.friends[layer] = h.selectClosest(node.vector, node.friends[layer], limit)
	}
}

// removeLocked detaches the node in the slot from the graph and frees the
// slot. Neighbors that listed the node drop their edge; edges pointing at
// the node from nodes it did not list are tolerated by the nil checks
// during traversal.
func (h *HNSW) removeLocked(slot uint32) {
	node := h.nodes[slot]
	if node == nil {
		return
	}

	for l := 0; l <= node.level; l++ {
		for _, f := range node.friends[l] {
			fn := h.nodes[f]
			if fn == nil || l >= len(fn.friends) {
				continue
			}

			fn.friends[l] = removeSlot(fn.friends[l], slot)
		}
	}

	h.nodes[slot] = nil
	h.free = append(h.free, slot)
	delete(h.slots, node.id)
	h.count--

	if h.count == 0 {
		h.entry = -1
		h.maxLevel = 0

		return
	}

	if h.entry == int32(slot) {
		h.electEntry()
	}
}

// electEntry promotes the highest-level remaining node to entry point.
func (h *HNSW) electEntry() {
	best := int32(-1)
	bestLevel := -1

	for slot, node := range h.nodes {
		if node == nil {
			continue
		}

		if node.level > bestLevel {
			best = int32(slot)
			bestLevel = node.level
		}
	}

	h.entry = best

	if bestLevel > 0 {
		h.maxLevel = bestLevel
	} else {
		h.maxLevel = 0
	}
}

func removeSlot(slots []uint32, slot uint32) []uint32 {
	for i, s := range slots {
		if s == slot {
			return append(slots[:i], slots[i+1:]...)
		}
	}

	return slots
}
