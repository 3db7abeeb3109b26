package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/domain"
)

func TestParseVerdict(t *testing.T) {
	raw := `{"score": 0.82, "explanation": "Sehr gute Passung",
		"strengths": ["DATEV", "Abschlusssicher"], "weaknesses": ["wenig Konzernerfahrung"],
		"risks": [], "recommendation": "vorstellen", "wow": true, "wow_reason": "IHK Bilanzbuchhalter"}`
	v, err := ParseVerdict(raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, v.Score, 1e-9)
	assert.Equal(t, "vorstellen", v.Recommendation)
	assert.True(t, v.Wow)
	assert.Len(t, v.Strengths, 2)
}

func TestParseVerdict_CodeFence(t *testing.T) {
	raw := "```json\n{\"score\": 0.4, \"explanation\": \"ok\"}\n```"
	v, err := ParseVerdict(raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, v.Score, 1e-9)
}

func TestParseVerdict_ClampsScore(t *testing.T) {
	v, err := ParseVerdict(`{"score": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Score)

	v, err = ParseVerdict(`{"score": -0.2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Score)
}

func TestParseVerdict_CapsLists(t *testing.T) {
	v, err := ParseVerdict(`{"score": 0.6, "strengths": ["a", "b", "c", "d", "e"], "weaknesses": ["", "x"]}`)
	require.NoError(t, err)
	assert.Len(t, v.Strengths, 3)
	// Blank entries are dropped before capping.
	assert.Equal(t, []string{"x"}, v.Weaknesses)
}

func TestParseVerdict_DerivesRecommendation(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.9, "vorstellen"},
		{0.6, "beobachten"},
		{0.2, "nicht_passend"},
	}
	for _, tc := range cases {
		v, err := ParseVerdict(`{"score": ` + floatLit(tc.score) + `, "recommendation": "maybe"}`)
		require.NoError(t, err)
		assert.Equal(t, tc.want, v.Recommendation)
	}
}

func floatLit(f float64) string {
	switch f {
	case 0.9:
		return "0.9"
	case 0.6:
		return "0.6"
	default:
		return "0.2"
	}
}

func TestParseVerdict_BadJSON(t *testing.T) {
	_, err := ParseVerdict("Leider kann ich das nicht bewerten.")
	assert.ErrorIs(t, err, domain.ErrUpstreamProtocol)
}
