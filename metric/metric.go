// Package metric provides vector distance and similarity calculations.
//
// The ANN index operates on distances where smaller means more similar. For
// inner-product mode the distance is the *negative* inner product; callers
// that want a cosine-like similarity must flip the sign back. See
// NegativeInnerProduct for the exact convention.
package metric

import (
	"errors"
	"math"
)

// ErrVectorSizeMismatch is returned when two vectors have different lengths.
var ErrVectorSizeMismatch = errors.New("vector sizes do not match")

// Dot calculates the dot product of two float32 slices.
func Dot(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrVectorSizeMismatch
	}

	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}

	return sum, nil
}

// NegativeInnerProduct calculates -1 * dot(v1, v2).
//
// For unit-norm vectors the dot product equals cosine similarity, so the
// negation turns "bigger is better" into the "smaller is better" ordering the
// index expects. Inverting this sign silently would reverse ranking; the
// search layer converts back with similarity = -distance.
func NegativeInnerProduct(v1, v2 []float32) (float32, error) {
	dot, err := Dot(v1, v2)
	if err != nil {
		return 0, err
	}

	return -dot, nil
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two
// float32 slices.
func SquaredL2(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrVectorSizeMismatch
	}

	var sum float32
	for i := range v1 {
		d := v1[i] - v2[i]
		sum += d * d
	}

	return sum, nil
}

// Magnitude calculates the L2 norm of a float32 slice.
func Magnitude(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}

	return float32(math.Sqrt(float64(sum)))
}

// CosineSimilarity calculates the cosine similarity between two float32 slices.
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	dot, err := Dot(v1, v2)
	if err != nil {
		return 0, err
	}

	m1 := Magnitude(v1)
	m2 := Magnitude(v2)

	// Avoid division by zero
	if m1 == 0 || m2 == 0 {
		return 0, nil
	}

	return dot / (m1 * m2), nil
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	m := Magnitude(v)
	if m == 0 {
		return false
	}

	inv := 1 / m
	for i := range v {
		v[i] *= inv
	}

	return true
}
