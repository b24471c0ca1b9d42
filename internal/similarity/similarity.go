// Package similarity scores how close a proposed agent response is to another
// sentence.
//
// [Dot] compares embedding vectors. Embedding models used by the evaluator
// return unit-length vectors, so the dot product equals cosine similarity.
// [Lexical] compares the surface text and is reported next to the embedding
// score as a baseline.
package similarity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// ErrDimensionMismatch is returned by [Dot] when the vectors differ in length.
var ErrDimensionMismatch = errors.New("similarity: dimension mismatch")

// Dot returns the inner product of a and b, accumulated in float64. Both
// vectors are assumed to be unit length; no normalisation is applied.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// Lexical returns the Jaro-Winkler similarity of a and b in [0, 1],
// compared case-insensitively. Two empty strings score 1.
func Lexical(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	return matchr.JaroWinkler(a, b, false)
}
