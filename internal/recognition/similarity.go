// Package recognition implements the matching core: cosine similarity,
// the best-match search, the template replacement policy and the
// recognition pipeline that ties them together.
package recognition

import (
	"gonum.org/v1/gonum/floats"
)

// Similarity computes the cosine similarity between two embeddings on
// L2-normalized copies of the inputs. The result is clamped to [0,1]:
// face embeddings in this domain occupy the positive cone, so a negative
// cosine carries no more information than "no similarity".
//
// Zero-norm or mismatched inputs yield 0. That is a defined edge case of
// the contract, not an error.
func Similarity(a, b []float32) float64 {
	ua, ok := unitVector(a)
	if !ok {
		return 0
	}
	return similarityToUnit(ua, b)
}

// BatchSimilarity computes Similarity(query, ref) for every reference.
// The query is normalized once; each pair otherwise goes through the exact
// arithmetic of a single call, so results are identical to n independent
// Similarity invocations.
func BatchSimilarity(query []float32, refs [][]float32) []float64 {
	out := make([]float64, len(refs))
	uq, ok := unitVector(query)
	if !ok {
		return out
	}
	for i, ref := range refs {
		out[i] = similarityToUnit(uq, ref)
	}
	return out
}

// unitVector returns an L2-normalized float64 copy of v. The second return
// is false for empty or zero-norm input.
func unitVector(v []float32) ([]float64, bool) {
	if len(v) == 0 {
		return nil, false
	}
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	norm := floats.Norm(f, 2)
	if norm == 0 {
		return nil, false
	}
	floats.Scale(1/norm, f)
	return f, true
}

// similarityToUnit computes the clamped cosine similarity between an
// already-normalized query and a raw reference vector.
func similarityToUnit(unit []float64, b []float32) float64 {
	ub, ok := unitVector(b)
	if !ok || len(ub) != len(unit) {
		return 0
	}
	sim := floats.Dot(unit, ub)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
