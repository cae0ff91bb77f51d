package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/backoff"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// maxWaitStep caps one sleep between attempts so a cancelled context is
// noticed promptly.
const maxWaitStep = time.Second

// RateLimiter is a sliding-window limiter shared by every bot instance that
// uses the same key, backed by a Redis sorted set and an atomic Lua script.
type RateLimiter struct {
	c             *Client
	slidingWindow *redis.Script
	key           string
	limit         int
	window        time.Duration
	now           func() time.Time
}

// NewRateLimiter allows limit calls per window on key.
func NewRateLimiter(c *Client, key string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		c:             c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		key:           c.key("ratelimit", key),
		limit:         limit,
		window:        window,
		now:           time.Now,
	}
}

// Allow counts one request if the window has room. When it does not, the
// returned duration is how long until the oldest request leaves the window.
func (rl *RateLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	result, err := rl.slidingWindow.Run(ctx, rl.c.rdb, []string{rl.key},
		rl.now().UnixMicro(),
		rl.window.Microseconds(),
		rl.limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", rl.key, err)
	}
	if len(result) < 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", rl.key, len(result))
	}
	return result[0] == 1, time.Duration(result[1]) * time.Microsecond, nil
}

// Wait blocks until a request is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, retry, err := rl.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := backoff.Sleep(ctx, min(retry, maxWaitStep)); err != nil {
			return fmt.Errorf("redis: rate limit wait %s: %w", rl.key, err)
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
