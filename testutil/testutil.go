// Package testutil provides seeded random vector generators and an exact
// search oracle for index tests and benchmarks.
package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/simidx/distance"
)

// SearchResult is one oracle result. Oracles order results by ascending
// distance.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// RNG is a seeded random source. It is safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0, 1).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Float32()
}

// UnitVector generates a single L2-normalized random vector. Gaussian
// components make the direction uniform on the hypersphere.
func (r *RNG) UnitVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unitVectorLocked(dim)
}

// UnitVectors generates num L2-normalized random vectors.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = r.unitVectorLocked(dim)
	}

	return vectors
}

// ClusteredVectors generates vectors grouped around random unit centroids,
// assigned round-robin. spread is the standard deviation of the Gaussian
// noise added per component; smaller values give tighter clusters.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	centroids := make([][]float32, clusters)
	for i := range centroids {
		centroids[i] = r.unitVectorLocked(dim)
	}

	vectors := make([][]float32, num)

	for i := range vectors {
		centroid := centroids[i%clusters]
		vec := make([]float32, dim)

		for j := range vec {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}

		vectors[i] = vec
	}

	return vectors
}

func (r *RNG) unitVectorLocked(dim int) []float32 {
	vec := make([]float32, dim)

	var norm float64

	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		vec[0] = 1
		return vec
	}

	inv := float32(1 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}

	return vec
}

// BruteForceSearch scans all vectors with the given distance function and
// returns the k nearest as ground truth. The vector's position is its id.
func BruteForceSearch(vectors [][]float32, query []float32, dist distance.Func, k int) []SearchResult {
	results := make([]SearchResult, len(vectors))

	for i, v := range vectors {
		results[i] = SearchResult{ID: uint64(i), Distance: dist(query, v)}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}

	return results
}

// ComputeRecall returns the fraction of ground truth ids found in the
// approximate results.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 {
		return 1.0
	}

	truthSet := make(map[uint64]struct{}, len(groundTruth))
	for _, r := range groundTruth {
		truthSet[r.ID] = struct{}{}
	}

	hits := 0

	for _, r := range approximate {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(groundTruth))
}
