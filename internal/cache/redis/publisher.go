package redis

import (
	"context"
	"fmt"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Publisher fans bid events out over Redis Pub/Sub.
type Publisher struct {
	c *Client
}

// NewPublisher creates a Publisher backed by c.
func NewPublisher(c *Client) *Publisher {
	return &Publisher{c: c}
}

// Publish sends payload on channel. The channel is not prefixed so that
// subscribers can use the documented name.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
