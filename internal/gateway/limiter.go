// Package gateway funnels every marketplace call through one bounded work
// queue and rate limiter.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/backoff"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// TokenBucket is an in-process token bucket limiter. It is safe for
// concurrent use.
type TokenBucket struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	rate   float64 // tokens per second
	last   time.Time
	now    func() time.Time
}

// NewTokenBucket allows bursts of up to burst calls and refills at perSecond.
func NewTokenBucket(burst int, perSecond float64) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	b := &TokenBucket{
		tokens: float64(burst),
		max:    float64(burst),
		rate:   perSecond,
		now:    time.Now,
	}
	b.last = b.now()
	return b
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		if err := backoff.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("gateway: rate limit wait: %w", err)
		}
	}
}

// TryAcquire takes a token without blocking.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill must be called with b.mu held.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.last = now
}

var _ domain.RateLimiter = (*TokenBucket)(nil)
