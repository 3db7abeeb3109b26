package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens with the cl100k_base encoding. Used to size
// prompts before sending and as a fallback when an upstream answer carries
// no usage block. Falls back to a bytes/4 heuristic if the encoding cannot
// be loaded.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CostUSD prices a token count pair with per-megatoken USD rates.
func CostUSD(inputTokens, outputTokens int, inPerMTok, outPerMTok float64) float64 {
	return float64(inputTokens)/1e6*inPerMTok + float64(outputTokens)/1e6*outPerMTok
}
