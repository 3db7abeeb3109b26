package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/talentbruecke/matchengine/internal/config"
	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/observability"
)

// OpenAI implements domain.ChatClient against an OpenAI-compatible chat
// completions endpoint. Retries on 429 and 5xx use the configured
// exponential backoff; 4xx answers fail permanently.
type OpenAI struct {
	cfg config.Config
	hc  *http.Client
}

// NewOpenAI constructs the chat client. The HTTP timeout matches the
// per-call budget so a stuck upstream cannot exceed it.
func NewOpenAI(cfg config.Config) *OpenAI {
	return &OpenAI{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.LLMTimeout},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ChatJSON sends one system+user exchange and returns the raw answer text
// plus token usage. Without an API key it fails fast with ErrNoAPIKey so
// callers can degrade instead of dialing out.
func (c *OpenAI) ChatJSON(ctx domain.Context, system, user string, maxTokens int, temperature float64) (string, domain.ChatUsage, error) {
	if c.cfg.OpenAIAPIKey == "" {
		return "", domain.ChatUsage{}, fmt.Errorf("op=ai.chat: %w", domain.ErrNoAPIKey)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.OpenAIModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", domain.ChatUsage{}, fmt.Errorf("op=ai.chat marshal: %w", err)
	}

	var out chatResponse
	start := time.Now()
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(c.cfg.OpenAIBaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("op=ai.chat: %w", domain.ErrUpstreamTimeout)
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("op=ai.chat read: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			observability.AIRequestsTotal.WithLabelValues("openai", "rate_limited").Inc()
			return fmt.Errorf("op=ai.chat: %w", domain.ErrUpstreamRateLimit)
		case resp.StatusCode >= 500:
			return fmt.Errorf("op=ai.chat status=%d: %w", resp.StatusCode, domain.ErrUpstreamProtocol)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("op=ai.chat status=%d: %w", resp.StatusCode, domain.ErrUpstreamProtocol))
		}
		out = chatResponse{}
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("op=ai.chat decode: %w", domain.ErrUpstreamProtocol))
		}
		if out.Error != nil {
			return backoff.Permanent(fmt.Errorf("op=ai.chat api=%s: %w", out.Error.Type, domain.ErrUpstreamProtocol))
		}
		if len(out.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("op=ai.chat empty choices: %w", domain.ErrUpstreamProtocol))
		}
		return nil
	}

	maxElapsed, initial, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		observability.AIRequestsTotal.WithLabelValues("openai", "error").Inc()
		return "", domain.ChatUsage{}, err
	}

	usage := domain.ChatUsage{
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}
	// Some OpenAI-compatible gateways omit the usage block.
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage.InputTokens = EstimateTokens(system + user)
		usage.OutputTokens = EstimateTokens(out.Choices[0].Message.Content)
	}
	observability.AIRequestsTotal.WithLabelValues("openai", "ok").Inc()
	observability.AIRequestDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	observability.AITokensTotal.WithLabelValues("openai", "input").Add(float64(usage.InputTokens))
	observability.AITokensTotal.WithLabelValues("openai", "output").Add(float64(usage.OutputTokens))
	slog.Debug("chat completion", slog.String("model", c.cfg.OpenAIModel),
		slog.Int("input_tokens", usage.InputTokens), slog.Int("output_tokens", usage.OutputTokens))
	return out.Choices[0].Message.Content, usage, nil
}
