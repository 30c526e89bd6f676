// Package distance provides vector distance kernels and L2 normalization.
package distance

import (
	"math"
	"slices"
)

// Func is a function type for distance calculation.
// Smaller values mean closer vectors.
type Func func(a, b []float32) float32

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
// Accumulates in float64 to limit rounding drift on long vectors.
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// Cosine calculates the cosine distance (1 - cosine similarity) between two
// vectors of arbitrary magnitude. The result is in [0, 2].
//
// A zero-norm vector has no direction; its distance to anything is reported
// as the maximum 2.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 2
	}

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))

	// Clamp against floating-point overshoot.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}

	return float32(1 - sim)
}

// CosineUnit calculates the cosine distance between two L2-normalized vectors.
// It is cheaper than Cosine because the norms are known to be 1.
func CosineUnit(a, b []float32) float32 {
	d := 1 - Dot(a, b)

	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}

	return d
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}

	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return false
	}

	inv := float32(1 / math.Sqrt(norm2))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
