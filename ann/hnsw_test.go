package ann

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomVectors returns n vectors with gaussian components drawn from a
// fixed-seed generator.
func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))

	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}

		vectors[i] = v
	}

	return vectors
}

func TestHNSW(t *testing.T) {
	t.Run("Upsert", func(t *testing.T) {
		h, err := NewHNSW(3, func(o *HNSWOptions) { o.RandomSeed = 1 })
		require.NoError(t, err)

		require.NoError(t, h.Upsert(1, []float32{1, 0, 0}))
		require.NoError(t, h.Upsert(2, []float32{0, 1, 0}))
		assert.Equal(t, 2, h.Len())

		// Replacing an existing id must not grow the index.
		require.NoError(t, h.Upsert(1, []float32{0, 0, 1}))
		assert.Equal(t, 2, h.Len())

		err = h.Upsert(3, []float32{1, 0})
		assert.IsType(t, &ErrDimensionMismatch{}, err)

		assert.ErrorIs(t, h.Upsert(3, []float32{0, 0, 0}), ErrZeroVector)
	})

	t.Run("Search", func(t *testing.T) {
		h, err := NewHNSW(2, func(o *HNSWOptions) { o.RandomSeed = 1 })
		require.NoError(t, err)

		require.NoError(t, h.Upsert(1, []float32{1, 0}))
		require.NoError(t, h.Upsert(2, []float32{0.9, 0.1}))
		require.NoError(t, h.Upsert(3, []float32{0, 1}))

		results, err := h.Search([]float32{1, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, uint64(1), results[0].ID)
		assert.Equal(t, uint64(2), results[1].ID)
		assert.InDelta(t, 0, float64(results[0].Distance), 1e-6)
	})

	t.Run("SearchEdgeCases", func(t *testing.T) {
		h, err := NewHNSW(2, func(o *HNSWOptions) { o.RandomSeed = 1 })
		require.NoError(t, err)

		// Empty index.
		results, err := h.Search([]float32{1, 0}, 3, nil)
		require.NoError(t, err)
		assert.Empty(t, results)

		require.NoError(t, h.Upsert(1, []float32{1, 0}))

		// k <= 0 yields an empty result, not an error.
		results, err = h.Search([]float32{1, 0}, 0, nil)
		require.NoError(t, err)
		assert.Empty(t, results)

		_, err = h.Search([]float32{1, 0, 0}, 1, nil)
		assert.IsType(t, &ErrDimensionMismatch{}, err)
	})

	t.Run("SearchFilter", func(t *testing.T) {
		h, err := NewHNSW(2, func(o *HNSWOptions) { o.RandomSeed = 1 })
		require.NoError(t, err)

		require.NoError(t, h.Upsert(1, []float32{1, 0}))
		require.NoError(t, h.Upsert(2, []float32{0.9, 0.1}))
		require.NoError(t, h.Upsert(3, []float32{0.8, 0.2}))

		results, err := h.Search([]float32{1, 0}, 3, func(id uint64) bool { return id != 1 })
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, uint64(2), results[0].ID)
		assert.Equal(t, uint64(3), results[1].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		h, err := NewHNSW(2, func(o *HNSWOptions) { o.RandomSeed = 1 })
		require.NoError(t, err)

		require.NoError(t, h.Upsert(1, []float32{1, 0}))
		require.NoError(t, h.Upsert(2, []float32{0, 1}))

		assert.True(t, h.Delete(1))
		assert.False(t, h.Delete(1))
		assert.Equal(t, 1, h.Len())

		results, err := h.Search([]float32{1, 0}, 5, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint64(2), results[0].ID)

		// Empty after deleting the last node, usable again afterwards.
		assert.True(t, h.Delete(2))
		assert.Equal(t, 0, h.Len())

		require.NoError(t, h.Upsert(7, []float32{1, 1}))

		results, err = h.Search([]float32{1, 1}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint64(7), results[0].ID)
	})

	t.Run("MaxElements", func(t *testing.T) {
		h, err := NewHNSW(2, func(o *HNSWOptions) {
			o.RandomSeed = 1
			o.MaxElements = 2
		})
		require.NoError(t, err)

		require.NoError(t, h.Upsert(1, []float32{1, 0}))
		require.NoError(t, h.Upsert(2, []float32{0, 1}))

		assert.ErrorIs(t, h.Upsert(3, []float32{1, 1}), ErrCapacityExceeded)

		// Replacing is allowed at capacity.
		require.NoError(t, h.Upsert(2, []float32{1, 1}))
	})

	t.Run("Reset", func(t *testing.T) {
		h, err := NewHNSW(2, func(o *HNSWOptions) { o.RandomSeed = 1 })
		require.NoError(t, err)

		require.NoError(t, h.Upsert(1, []float32{1, 0}))
		h.Reset()

		assert.Equal(t, 0, h.Len())
		assert.Equal(t, 2, h.Dimension())

		results, err := h.Search([]float32{1, 0}, 1, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestHNSWRecall(t *testing.T) {
	const (
		n   = 500
		dim = 16
		k   = 10
	)

	vectors := randomVectors(n, dim, 42)

	flat, err := NewFlat(dim)
	require.NoError(t, err)

	hnsw, err := NewHNSW(dim, func(o *HNSWOptions) { o.RandomSeed = 7 })
	require.NoError(t, err)

	for i, v := range vectors {
		require.NoError(t, flat.Upsert(uint64(i), v))
		require.NoError(t, hnsw.Upsert(uint64(i), v))
	}

	queries := randomVectors(50, dim, 99)

	var hits, total int

	for _, q := range queries {
		exact, err := flat.Search(q, k, nil)
		require.NoError(t, err)

		approx, err := hnsw.Search(q, k, nil)
		require.NoError(t, err)
		require.Len(t, approx, k)

		want := make(map[uint64]struct{}, len(exact))
		for _, c := range exact {
			want[c.ID] = struct{}{}
		}

		for _, c := range approx {
			if _, ok := want[c.ID]; ok {
				hits++
			}
		}

		total += len(exact)
	}

	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall %.3f below threshold", recall)
}

func TestHNSWDeleteHeavy(t *testing.T) {
	const (
		n   = 200
		dim = 8
	)

	vectors := randomVectors(n, dim, 21)

	h, err := NewHNSW(dim, func(o *HNSWOptions) { o.RandomSeed = 3 })
	require.NoError(t, err)

	for i, v := range vectors {
		require.NoError(t, h.Upsert(uint64(i), v))
	}

	// Remove every other id, including whatever became the entry point.
	for i := 0; i < n; i += 2 {
		require.True(t, h.Delete(uint64(i)))
	}

	assert.Equal(t, n/2, h.Len())

	for i := 1; i < n; i += 2 {
		results, err := h.Search(vectors[i], 5, nil)
		require.NoError(t, err)
		require.NotEmpty(t, results)

		found := false
		for _, c := range results {
			assert.EqualValues(t, 1, c.ID%2, "deleted id %d surfaced", c.ID)

			if c.ID == uint64(i) {
				found = true
			}
		}

		assert.True(t, found, "id %d not found by its own vector", i)
	}
}
