package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/rest"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers alerts through the Telegram Bot API.
type TelegramSender struct {
	rest   *rest.Client
	token  string
	chatID string
}

// NewTelegramSender creates a sender for the bot token and chat. apiBase
// overrides the API root and may be empty.
func NewTelegramSender(token, chatID, apiBase string) *TelegramSender {
	if apiBase == "" {
		apiBase = telegramAPI
	}
	return &TelegramSender{
		rest:   rest.New(rest.Config{BaseURL: apiBase, Timeout: 10 * time.Second, MaxRetries: 2}),
		token:  token,
		chatID: chatID,
	}
}

// Send posts the alert with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := t.rest.Post(ctx, "/bot"+t.token+"/sendMessage", payload, nil); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
