package ann

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/simidx/distance"
	"github.com/hupe1980/simidx/queue"
)

// FlatOptions contains options for configuring the flat index.
type FlatOptions struct {
	// DistanceFunc is the distance function used to compare vectors.
	DistanceFunc distance.Func

	// Normalize controls whether vectors are L2-normalized on insert and
	// queries on search. Must stay enabled when DistanceFunc assumes unit
	// vectors, as the default does.
	Normalize bool

	// MaxElements caps the number of stored vectors. Zero means unlimited.
	MaxElements int
}

// DefaultFlatOptions holds the default options for the flat index.
var DefaultFlatOptions = FlatOptions{
	DistanceFunc: distance.CosineUnit,
	Normalize:    true,
}

// Flat is an exact brute-force index.
//
// Every search scans all stored vectors, so cost grows linearly with size.
// It is intended for small stores and serves as the exact reference for the
// approximate index.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	opts    FlatOptions
	vectors map[uint64][]float32
}

// NewFlat creates a new flat index for vectors of the given dimension.
func NewFlat(dimension int, optFns ...func(o *FlatOptions)) (*Flat, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("ann: dimension must be positive, got %d", dimension)
	}

	opts := DefaultFlatOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.DistanceFunc == nil {
		opts.DistanceFunc = distance.CosineUnit
	}

	return &Flat{
		dim:     dimension,
		opts:    opts,
		vectors: make(map[uint64][]float32),
	}, nil
}

// Upsert adds a vector under the given id, replacing any existing vector.
func (f *Flat) Upsert(id uint64, vector []float32) error {
	if len(vector) != f.dim {
		return &ErrDimensionMismatch{Expected: f.dim, Actual: len(vector)}
	}

	vec, err := prepareVector(vector, f.opts.Normalize)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.vectors[id]; !ok {
		if f.opts.MaxElements > 0 && len(f.vectors) >= f.opts.MaxElements {
			return ErrCapacityExceeded
		}
	}

	f.vectors[id] = vec

	return nil
}

// Delete removes the id from the index and reports whether it was present.
func (f *Flat) Delete(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.vectors[id]; !ok {
		return false
	}

	delete(f.vectors, id)

	return true
}

// Search returns up to k candidates ordered by ascending distance.
func (f *Flat) Search(query []float32, k int, filter FilterFunc) ([]Candidate, error) {
	if len(query) != f.dim {
		return nil, &ErrDimensionMismatch{Expected: f.dim, Actual: len(query)}
	}

	if k <= 0 {
		return nil, nil
	}

	q, err := prepareVector(query, f.opts.Normalize)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	// Keep the k closest seen so far in a max-heap; the root is the worst
	// of the current best, so anything beating it replaces it.
	top := queue.NewMax(k)

	for id, vec := range f.vectors {
		if filter != nil && !filter(id) {
			continue
		}

		d := f.opts.DistanceFunc(q, vec)

		if top.Len() < k {
			heap.Push(top, &queue.PriorityQueueItem{Node: id, Distance: d})
		} else if worst := top.Top(); worst != nil && d < worst.Distance {
			heap.Pop(top)
			heap.Push(top, &queue.PriorityQueueItem{Node: id, Distance: d})
		}
	}

	results := make([]Candidate, 0, top.Len())

	for top.Len() > 0 {
		item := heap.Pop(top).(*queue.PriorityQueueItem)
		results = append(results, Candidate{ID: item.Node, Distance: item.Distance})
	}

	// The heap pops worst-first.
	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	return results, nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.vectors)
}

// Reset removes all vectors, keeping the configuration.
func (f *Flat) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.vectors = make(map[uint64][]float32)
}

// Dimension returns the configured vector dimension.
func (f *Flat) Dimension() int {
	return f.dim
}
