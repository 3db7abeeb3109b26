package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// Verdict is the parsed deep-evaluation answer.
type Verdict struct {
	Score          float64  `json:"score"`
	Explanation    string   `json:"explanation"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	Risks          []string `json:"risks"`
	Recommendation string   `json:"recommendation"`
	Wow            bool     `json:"wow"`
	WowReason      string   `json:"wow_reason"`
}

const maxListEntries = 3

// ParseVerdict decodes a model answer. Code fences around the JSON are
// tolerated, the score is clamped to [0,1] and lists are cut to three
// entries. An unknown recommendation falls back to a score-derived one.
func ParseVerdict(raw string) (Verdict, error) {
	cleaned := stripFences(raw)
	var v Verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return Verdict{}, fmt.Errorf("op=ai.parse_verdict: %w: %v", domain.ErrUpstreamProtocol, err)
	}
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 1 {
		v.Score = 1
	}
	v.Strengths = capList(v.Strengths)
	v.Weaknesses = capList(v.Weaknesses)
	v.Risks = capList(v.Risks)
	switch v.Recommendation {
	case "vorstellen", "beobachten", "nicht_passend":
	default:
		v.Recommendation = recommendationForScore(v.Score)
	}
	return v, nil
}

func recommendationForScore(score float64) string {
	switch {
	case score >= 0.75:
		return "vorstellen"
	case score >= 0.5:
		return "beobachten"
	default:
		return "nicht_passend"
	}
}

func capList(items []string) []string {
	out := items[:0:0]
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		out = append(out, it)
		if len(out) == maxListEntries {
			break
		}
	}
	return out
}

// stripFences removes a surrounding markdown code fence if present and
// otherwise cuts the answer down to the outermost JSON object.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
