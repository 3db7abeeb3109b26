package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talentbruecke/matchengine/internal/scoring"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, scoring.CosineSimilarity(a, b), 1e-9)

	c := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, scoring.CosineSimilarity(a, c), 1e-9)

	// Mismatched lengths yield 0.
	assert.Zero(t, scoring.CosineSimilarity(a, []float32{1, 0}))

	// Zero norm yields 0.
	assert.Zero(t, scoring.CosineSimilarity(a, []float32{0, 0, 0}))
	assert.Zero(t, scoring.CosineSimilarity(nil, nil))
}

func TestCosineBatch_MatchesScalar(t *testing.T) {
	query := []float32{0.5, 0.25, -0.75, 1}
	cands := [][]float32{
		{0.5, 0.25, -0.75, 1},
		{-0.5, 0.25, 0.75, 1},
		{0, 0, 0, 0},
		{1, 1}, // mismatched length
	}
	got := scoring.CosineBatch(query, cands)
	for i, c := range cands {
		assert.InDelta(t, scoring.CosineSimilarity(query, c), got[i], 1e-9, "candidate %d", i)
	}
}

func TestNormalizeSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, scoring.NormalizeSimilarity(0.3))
	assert.Equal(t, 1.0, scoring.NormalizeSimilarity(0.9))
	assert.InDelta(t, 0.5, scoring.NormalizeSimilarity(0.6), 1e-9)
	// Clamped outside the band.
	assert.Equal(t, 0.0, scoring.NormalizeSimilarity(-1))
	assert.Equal(t, 1.0, scoring.NormalizeSimilarity(1))
}
