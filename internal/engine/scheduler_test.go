package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

func listing(token, price string) domain.BottomListing {
	return domain.BottomListing{TokenID: token, ListedPrice: dec(price)}
}

type countingIdle struct{ calls atomic.Int32 }

func (c *countingIdle) WaitIdle(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestPassBidsOnBottomListings(t *testing.T) {
	h := newHarness(t, itemPolicy())
	idle := &countingIdle{}
	s := NewScheduler(h.engine, idle, discard())
	ctx := context.Background()

	h.market.listings = []domain.BottomListing{listing("a", "1.5"), listing("b", "0.6")}
	h.market.setCompetitor("b", theirOffer("0.70"))

	if err := s.Pass(ctx, h.orch); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if idle.calls.Load() != 1 {
		t.Errorf("WaitIdle calls = %d", idle.calls.Load())
	}
	a, _ := h.orch.state.Get("a")
	b, _ := h.orch.state.Get("b")
	if !a.Price.Equal(dec("0.75")) {
		t.Errorf("a price = %s, want half the listing 0.75", a.Price)
	}
	if !b.Price.Equal(dec("0.71")) {
		t.Errorf("b price = %s, want 0.71", b.Price)
	}
	if got := h.orch.state.BottomListings(); len(got) != 2 {
		t.Errorf("bottom listings = %+v", got)
	}
	if !h.orch.state.FirstPassDone() || !h.orch.state.Floor().Equal(dec("2")) {
		t.Error("pass bookkeeping missing")
	}

	// "a" leaves the book: its bid is withdrawn on the next pass.
	h.market.listings = []domain.BottomListing{listing("b", "0.6")}
	if err := s.Pass(ctx, h.orch); err != nil {
		t.Fatalf("second Pass: %v", err)
	}
	if _, ok := h.orch.state.Get("a"); ok {
		t.Error("stale bid on a kept")
	}
	if n := len(h.market.activeOrders("a")); n != 0 {
		t.Errorf("remote bid on a still active")
	}
}

// Seeded bids outside the first rescan's bottom listings survive until the
// first pass completed.
func TestRestartSeedingDefersCancel(t *testing.T) {
	h := newHarness(t, itemPolicy())
	s := NewScheduler(h.engine, nil, discard())
	ctx := context.Background()

	h.market.mu.Lock()
	h.market.orders = append(h.market.orders, &order{id: "remote-1", key: "remote", token: "remote", price: dec("0.6"), active: true})
	h.market.mu.Unlock()
	h.market.userOffers = []domain.Offer{
		{ID: "remote-1", TokenID: "remote", Price: dec("0.6"), Owner: us},
		{ID: "gone", TokenID: "old", Price: dec("0.6"), Owner: us, ExpiresAt: time.Now().Add(-time.Hour)},
	}
	h.market.listings = []domain.BottomListing{listing("a", "1.2")}

	if err := s.Pass(ctx, h.orch); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if !h.orch.state.Seeded() {
		t.Fatal("ledger not seeded")
	}
	if _, ok := h.orch.state.Get("remote"); !ok {
		t.Fatal("seeded bid cancelled on the first pass")
	}
	if _, ok := h.orch.state.Get("old"); ok {
		t.Error("expired remote offer seeded")
	}
	if h.market.cancels != 0 {
		t.Errorf("cancels on first pass = %d", h.market.cancels)
	}

	if err := s.Pass(ctx, h.orch); err != nil {
		t.Fatalf("second Pass: %v", err)
	}
	if _, ok := h.orch.state.Get("remote"); ok {
		t.Error("seeded bid outside the book kept after first pass")
	}
	if n := len(h.market.activeOrders("remote")); n != 0 {
		t.Error("remote seeded offer not cancelled")
	}
}

func TestPassAbortsOnFloorFailure(t *testing.T) {
	h := newHarness(t, itemPolicy())
	s := NewScheduler(h.engine, nil, discard())
	h.market.floorErr = errors.New("upstream down")
	h.market.listings = []domain.BottomListing{listing("a", "1.2")}

	if err := s.Pass(context.Background(), h.orch); err == nil {
		t.Fatal("Pass succeeded without floor")
	}
	if h.orch.state.Len() != 0 || h.orch.state.FirstPassDone() {
		t.Error("aborted pass changed state")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, itemPolicy())
	s := NewScheduler(h.engine, nil, discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	for !h.orch.state.FirstPassDone() {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
