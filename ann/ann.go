// Package ann provides the nearest neighbor indexes used for similarity search.
//
// Two implementations are available:
//
//   - HNSW: approximate search over a hierarchical navigable small world graph
//   - Flat: exact brute-force search
//
// Both operate on caller-assigned uint64 ids and satisfy the Index interface.
// Vectors are L2-normalized on insert by default, so the cosine distance of
// two stored vectors reduces to 1 minus their dot product.
package ann

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/simidx/distance"
)

var (
	// ErrZeroVector is returned when a vector with zero L2 norm is passed to
	// an index that normalizes vectors. A zero vector has no direction, so
	// cosine distance is undefined for it.
	ErrZeroVector = errors.New("vector has zero norm")

	// ErrCapacityExceeded is returned when an insert would grow the index
	// beyond its configured maximum number of elements.
	ErrCapacityExceeded = errors.New("index capacity exceeded")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Candidate represents a search candidate.
type Candidate struct {
	// ID is the identifier of the candidate.
	ID uint64

	// Distance is the distance between the query vector and the candidate.
	Distance float32
}

// FilterFunc restricts a search to ids for which it returns true.
type FilterFunc func(id uint64) bool

// Index is the contract shared by the nearest neighbor indexes.
//
// Implementations are safe for concurrent use. Callers that need
// cross-structure consistency (index plus ledger plus records) must still
// serialize mutations themselves.
type Index interface {
	// Upsert adds a vector under the given id, replacing any existing vector
	// for that id.
	Upsert(id uint64, vector []float32) error

	// Delete removes the id from the index and reports whether it was
	// present. Deleting an absent id is a no-op, not an error.
	Delete(id uint64) bool

	// Search returns up to k candidates ordered by ascending distance.
	// A nil filter admits every id. k <= 0 yields an empty result.
	Search(query []float32, k int, filter FilterFunc) ([]Candidate, error)

	// Len returns the number of vectors in the index.
	Len() int

	// Reset removes all vectors, keeping the configuration.
	Reset()

	// Dimension returns the configured vector dimension.
	Dimension() int
}

// Compile-time interface checks.
var (
	_ Index = (*HNSW)(nil)
	_ Index = (*Flat)(nil)
)

// prepareVector returns a private copy of v, normalized when requested.
func prepareVector(v []float32, normalize bool) ([]float32, error) {
	vec := slices.Clone(v)
	if normalize && !distance.NormalizeL2InPlace(vec) {
		return nil, ErrZeroVector
	}
	return vec, nil
}
