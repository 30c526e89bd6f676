package ann

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlat(t *testing.T) {
	t.Run("Upsert", func(t *testing.T) {
		f, err := NewFlat(3)
		require.NoError(t, err)

		require.NoError(t, f.Upsert(1, []float32{1, 0, 0}))
		require.NoError(t, f.Upsert(2, []float32{0, 1, 0}))
		assert.Equal(t, 2, f.Len())

		// Replacing an existing id must not grow the index.
		require.NoError(t, f.Upsert(1, []float32{0, 0, 1}))
		assert.Equal(t, 2, f.Len())

		err = f.Upsert(3, []float32{1, 0})
		assert.IsType(t, &ErrDimensionMismatch{}, err)

		assert.ErrorIs(t, f.Upsert(3, []float32{0, 0, 0}), ErrZeroVector)
	})

	t.Run("Search", func(t *testing.T) {
		f, err := NewFlat(2)
		require.NoError(t, err)

		require.NoError(t, f.Upsert(1, []float32{1, 0}))
		require.NoError(t, f.Upsert(2, []float32{0.9, 0.1}))
		require.NoError(t, f.Upsert(3, []float32{0, 1}))

		results, err := f.Search([]float32{1, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, uint64(1), results[0].ID)
		assert.Equal(t, uint64(2), results[1].ID)
		assert.InDelta(t, 0, float64(results[0].Distance), 1e-6)
		// cos([1,0], [0.9,0.1]) = 0.9/sqrt(0.82)
		assert.InDelta(t, 1-0.9/math.Sqrt(0.82), float64(results[1].Distance), 1e-5)
	})

	t.Run("SearchFilter", func(t *testing.T) {
		f, err := NewFlat(2)
		require.NoError(t, err)

		require.NoError(t, f.Upsert(1, []float32{1, 0}))
		require.NoError(t, f.Upsert(2, []float32{0.9, 0.1}))
		require.NoError(t, f.Upsert(3, []float32{0.8, 0.2}))

		results, err := f.Search([]float32{1, 0}, 3, func(id uint64) bool { return id != 1 })
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, uint64(2), results[0].ID)
		assert.Equal(t, uint64(3), results[1].ID)
	})

	t.Run("SearchEdgeCases", func(t *testing.T) {
		f, err := NewFlat(2)
		require.NoError(t, err)

		require.NoError(t, f.Upsert(1, []float32{1, 0}))

		// k <= 0 yields an empty result, not an error.
		results, err := f.Search([]float32{1, 0}, 0, nil)
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = f.Search([]float32{1, 0}, -3, nil)
		require.NoError(t, err)
		assert.Empty(t, results)

		// k beyond the index size returns everything.
		results, err = f.Search([]float32{1, 0}, 10, nil)
		require.NoError(t, err)
		assert.Len(t, results, 1)

		_, err = f.Search([]float32{1, 0, 0}, 1, nil)
		assert.IsType(t, &ErrDimensionMismatch{}, err)
	})

	t.Run("Delete", func(t *testing.T) {
		f, err := NewFlat(2)
		require.NoError(t, err)

		require.NoError(t, f.Upsert(1, []float32{1, 0}))
		require.NoError(t, f.Upsert(2, []float32{0, 1}))

		assert.True(t, f.Delete(1))
		assert.False(t, f.Delete(1))
		assert.Equal(t, 1, f.Len())

		results, err := f.Search([]float32{1, 0}, 5, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint64(2), results[0].ID)
	})

	t.Run("MaxElements", func(t *testing.T) {
		f, err := NewFlat(2, func(o *FlatOptions) { o.MaxElements = 2 })
		require.NoError(t, err)

		require.NoError(t, f.Upsert(1, []float32{1, 0}))
		require.NoError(t, f.Upsert(2, []float32{0, 1}))

		assert.ErrorIs(t, f.Upsert(3, []float32{1, 1}), ErrCapacityExceeded)

		// Replacing is allowed at capacity.
		require.NoError(t, f.Upsert(2, []float32{1, 1}))
	})

	t.Run("Reset", func(t *testing.T) {
		f, err := NewFlat(2)
		require.NoError(t, err)

		require.NoError(t, f.Upsert(1, []float32{1, 0}))
		f.Reset()

		assert.Equal(t, 0, f.Len())
		assert.Equal(t, 2, f.Dimension())

		results, err := f.Search([]float32{1, 0}, 1, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}
