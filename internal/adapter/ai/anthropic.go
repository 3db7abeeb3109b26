package ai

import (
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/talentbruecke/matchengine/internal/config"
	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/observability"
)

// Anthropic implements domain.ChatClient on the Anthropic messages API.
// The geo+role pipeline uses it for candidate assessments; the SDK owns
// retries and rate-limit handling.
type Anthropic struct {
	cfg    config.Config
	client anthropic.Client
}

// NewAnthropic constructs the client. ChatJSON degrades with ErrNoAPIKey
// when no key is configured.
func NewAnthropic(cfg config.Config) *Anthropic {
	return &Anthropic{
		cfg:    cfg,
		client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
	}
}

// ChatJSON sends one system+user exchange and returns the answer text plus
// token usage.
func (a *Anthropic) ChatJSON(ctx domain.Context, system, user string, maxTokens int, temperature float64) (string, domain.ChatUsage, error) {
	if a.cfg.AnthropicAPIKey == "" {
		return "", domain.ChatUsage{}, fmt.Errorf("op=ai.assess: %w", domain.ErrNoAPIKey)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.AnthropicModel),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		observability.AIRequestsTotal.WithLabelValues("anthropic", "error").Inc()
		return "", domain.ChatUsage{}, fmt.Errorf("op=ai.assess: %w", err)
	}
	if len(msg.Content) == 0 {
		observability.AIRequestsTotal.WithLabelValues("anthropic", "error").Inc()
		return "", domain.ChatUsage{}, fmt.Errorf("op=ai.assess empty content: %w", domain.ErrUpstreamProtocol)
	}

	usage := domain.ChatUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	observability.AIRequestsTotal.WithLabelValues("anthropic", "ok").Inc()
	observability.AIRequestDuration.WithLabelValues("anthropic").Observe(time.Since(start).Seconds())
	observability.AITokensTotal.WithLabelValues("anthropic", "input").Add(float64(usage.InputTokens))
	observability.AITokensTotal.WithLabelValues("anthropic", "output").Add(float64(usage.OutputTokens))
	return msg.Content[0].Text, usage, nil
}
