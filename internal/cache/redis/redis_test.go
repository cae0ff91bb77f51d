package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// testClient connects to BIDBOT_TEST_REDIS_ADDR, skipping when unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("BIDBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BIDBOT_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "bidbot-test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyJoinsParts(t *testing.T) {
	c := &Client{prefix: "bidbot:"}
	if got := c.key("lock", "wallet", "bc1q"); got != "bidbot:lock:wallet:bc1q" {
		t.Errorf("key = %q", got)
	}
}

func TestLeaseLifecycle(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	l, err := lm.Acquire(ctx, "wallet", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "wallet", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	if err := l.Extend(ctx, 2*time.Second); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	l.Release()
	l.Release()
	if err := l.Extend(ctx, time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("Extend after release err = %v, want ErrLockHeld", err)
	}

	again, err := lm.Acquire(ctx, "wallet", time.Second)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again.Release()
}

func TestRateLimiterWindow(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c, "market", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx)
		if err != nil || !ok {
			t.Fatalf("Allow %d = %v, %v", i, ok, err)
		}
	}
	ok, retry, err := rl.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok || retry <= 0 || retry > time.Minute {
		t.Errorf("third Allow = %v retry %s, want denied within a minute", ok, retry)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want deadline exceeded", err)
	}
}
