// Package scoring implements the deterministic match scoring engine: cosine
// similarity over profile embeddings, the seven component sub-scores, their
// weighted aggregation, and learned-rule adjustments.
package scoring

import "math"

// EmbeddingDim is the expected vector length for all profile embeddings.
const EmbeddingDim = 384

// CosineSimilarity returns the cosine similarity of two vectors. Mismatched
// lengths or a zero-norm side yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineBatch fixes one query vector and scores many candidates against it,
// computing the query norm once.
func CosineBatch(query []float32, candidates [][]float32) []float64 {
	out := make([]float64, len(candidates))
	var nq float64
	for _, v := range query {
		nq += float64(v) * float64(v)
	}
	if nq == 0 {
		return out
	}
	nq = math.Sqrt(nq)
	for i, c := range candidates {
		if len(c) != len(query) {
			continue
		}
		var dot, nc float64
		for j := range c {
			dot += float64(query[j]) * float64(c[j])
			nc += float64(c[j]) * float64(c[j])
		}
		if nc == 0 {
			continue
		}
		out[i] = dot / (nq * math.Sqrt(nc))
	}
	return out
}

// NormalizeSimilarity maps a raw cosine similarity into [0,1]. Realistic
// document similarities cluster in [0.3, 0.9], so the band is stretched
// linearly and clamped.
func NormalizeSimilarity(sim float64) float64 {
	n := (sim - 0.3) / 0.6
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
