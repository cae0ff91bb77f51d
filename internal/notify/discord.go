package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/rest"
)

// DiscordSender delivers alerts to a Discord webhook.
type DiscordSender struct {
	rest *rest.Client
}

// NewDiscordSender creates a sender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		rest: rest.New(rest.Config{BaseURL: webhookURL, Timeout: 10 * time.Second, MaxRetries: 2}),
	}
}

// Send posts the alert with the title in bold.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"content": fmt.Sprintf("**%s**\n%s", title, message)}
	if err := d.rest.Post(ctx, "", payload, nil); err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
