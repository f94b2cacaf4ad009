package search

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch means two vectors from different model configurations
// were compared. This is a configuration error; the search fails fast rather
// than returning a meaningless ranking.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Cosine returns the cosine similarity of a and b, clamped to [0,1] so it
// can be shown as a percentage. Negative cosines are floored at 0; embedding
// spaces in use here are non-negative, so the clamp discards nothing in
// practice. A zero vector yields 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, aSq, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aSq += float64(a[i]) * float64(a[i])
		bSq += float64(b[i]) * float64(b[i])
	}

	if aSq == 0 || bSq == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(aSq) * math.Sqrt(bSq))
	if sim < 0 {
		return 0, nil
	}
	if sim > 1 {
		return 1, nil
	}
	return sim, nil
}
