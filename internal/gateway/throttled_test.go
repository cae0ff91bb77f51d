package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// slowMarket counts concurrent FloorPrice calls.
type slowMarket struct {
	domain.Marketplace
	cur, peak atomic.Int64
	signed    atomic.Int64
}

func (m *slowMarket) FloorPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	n := m.cur.Add(1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	m.cur.Add(-1)
	return decimal.NewFromInt(1), nil
}

func (m *slowMarket) Sign(ctx context.Context, offer domain.UnsignedOffer) (domain.SignedOffer, error) {
	m.signed.Add(1)
	return domain.SignedOffer{UnsignedOffer: offer, Signature: "sig"}, nil
}

type countingLimiter struct{ n atomic.Int64 }

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.n.Add(1)
	return ctx.Err()
}

func TestThrottledBoundsConcurrency(t *testing.T) {
	m := &slowMarket{}
	lim := &countingLimiter{}
	th := NewThrottled(m, lim, 3)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := th.FloorPrice(context.Background(), "bitmap"); err != nil {
				t.Errorf("FloorPrice: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := m.peak.Load(); got > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", got)
	}
	if got := lim.n.Load(); got != 12 {
		t.Errorf("limiter waits = %d, want 12", got)
	}
	if s := th.Stats(); s.Calls != 12 || s.InFlight != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestThrottledSignSkipsQueue(t *testing.T) {
	m := &slowMarket{}
	lim := &countingLimiter{}
	th := NewThrottled(m, lim, 1)

	if _, err := th.Sign(context.Background(), domain.UnsignedOffer{}); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if lim.n.Load() != 0 {
		t.Error("Sign consumed a rate limit token")
	}
	if m.signed.Load() != 1 {
		t.Error("Sign not forwarded")
	}
}

func TestThrottledCancelledContext(t *testing.T) {
	th := NewThrottled(&slowMarket{}, &countingLimiter{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := th.FloorPrice(ctx, "bitmap"); err == nil {
		t.Fatal("call with cancelled context succeeded")
	}
}
