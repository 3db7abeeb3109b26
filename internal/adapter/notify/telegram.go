// Package notify implements the outbound notification channel via the
// Telegram bot API.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// Telegram sends short text messages to a fixed chat. It implements
// domain.Notifier.
type Telegram struct {
	token  string
	chatID string
	base   string
	hc     *http.Client
}

// NewTelegram constructs a notifier. With an empty token Send becomes a
// silent no-op so pipelines run without the channel configured.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		base:   "https://api.telegram.org",
		hc:     &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL overrides the API host, for tests.
func (t *Telegram) WithBaseURL(base string) *Telegram {
	t.base = base
	return t
}

// Send posts one message.
func (t *Telegram) Send(ctx domain.Context, text string) error {
	if t.token == "" || t.chatID == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	u := fmt.Sprintf("%s/bot%s/sendMessage", t.base, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=notify.send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=notify.send: %w", domain.ErrUpstreamTimeout)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=notify.send status=%d: %w", resp.StatusCode, domain.ErrUpstreamProtocol)
	}
	return nil
}
