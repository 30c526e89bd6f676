package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 11.0, Dot([]float32{1, 2, 3}, []float32{3, 1, 2}), 1e-6)
	assert.InDelta(t, -1.0, Dot([]float32{1, 0}, []float32{-1, 0}), 1e-6)
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 0.0, SquaredL2([]float32{1, 2}, []float32{1, 2}), 1e-6)
	assert.InDelta(t, 2.0, SquaredL2([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 25.0, SquaredL2([]float32{0, 0, 0}, []float32{3, 4, 0}), 1e-6)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 0},
		{name: "same direction different magnitude", a: []float32{1, 0}, b: []float32{5, 0}, want: 0},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 1},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: 2},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 2},
		{name: "near match", a: []float32{1, 0}, b: []float32{0.9, 0.1}, want: 1 - 0.9/math.Sqrt(0.82)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, float64(Cosine(tt.a, tt.b)), 1e-5)
		})
	}
}

func TestCosineUnitMatchesCosine(t *testing.T) {
	a, ok := NormalizeL2Copy([]float32{3, 4, 0})
	require.True(t, ok)
	b, ok := NormalizeL2Copy([]float32{-1, 2, 2})
	require.True(t, ok)

	assert.InDelta(t, float64(Cosine(a, b)), float64(CosineUnit(a, b)), 1e-5)
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm2, 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))
}

func TestNormalizeL2Copy(t *testing.T) {
	src := []float32{0, 3}
	dst, ok := NormalizeL2Copy(src)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 3}, src, "source must not be mutated")
	assert.InDelta(t, 1.0, float64(dst[1]), 1e-6)

	_, ok = NormalizeL2Copy([]float32{0})
	assert.False(t, ok)
}
