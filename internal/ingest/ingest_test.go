package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
		want domain.MarketEvent
	}{
		{
			name: "offer placed with numeric sats",
			raw:  `{"kind":"offer_placed","collectionSymbol":"bitmap","tokenId":"i1","listedPrice":150000000,"buyerPaymentAddress":"bc1qthem","createdAt":"2026-01-02T03:04:05Z"}`,
			ok:   true,
			want: domain.MarketEvent{
				Kind: domain.EventOfferPlaced, Collection: "bitmap", TokenID: "i1",
				Price: decimal.RequireFromString("1.5"), Counterparty: "bc1qthem", Buyer: "bc1qthem",
				Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			name: "accepted offer counterparty is seller",
			raw:  `{"kind":"offer_accepted_broadcasted","collectionSymbol":"bitmap","tokenId":"i2","listedPrice":"2500","buyerPaymentAddress":"bc1qus","sellerPaymentReceiverAddress":"bc1qseller"}`,
			ok:   true,
			want: domain.MarketEvent{
				Kind: domain.EventOfferAccepted, Collection: "bitmap", TokenID: "i2",
				Price: decimal.RequireFromString("0.000025"), Counterparty: "bc1qseller", Buyer: "bc1qus",
			},
		},
		{name: "unknown kind", raw: `{"kind":"list","collectionSymbol":"bitmap"}`},
		{name: "missing collection", raw: `{"kind":"offer_placed"}`},
		{name: "not json", raw: `pong`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize([]byte(tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Kind != tt.want.Kind || got.Collection != tt.want.Collection || got.TokenID != tt.want.TokenID {
				t.Errorf("identity = %+v, want %+v", got, tt.want)
			}
			if !got.Price.Equal(tt.want.Price) {
				t.Errorf("price = %s, want %s", got.Price, tt.want.Price)
			}
			if got.Counterparty != tt.want.Counterparty || got.Buyer != tt.want.Buyer {
				t.Errorf("parties = %q/%q, want %q/%q", got.Counterparty, got.Buyer, tt.want.Counterparty, tt.want.Buyer)
			}
			if !got.Timestamp.Equal(tt.want.Timestamp) {
				t.Errorf("timestamp = %s, want %s", got.Timestamp, tt.want.Timestamp)
			}
		})
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute, 10*time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	offer := domain.MarketEvent{
		Kind: domain.EventOfferPlaced, Collection: "bitmap", TokenID: "i1",
		Price: decimal.RequireFromString("0.5"), Counterparty: "bc1qthem", Timestamp: now,
	}
	fill := domain.MarketEvent{
		Kind: domain.EventOfferAccepted, Collection: "bitmap", TokenID: "i1",
		Price: decimal.RequireFromString("0.5"), Buyer: "bc1qus", Timestamp: now,
	}

	if d.Seen(offer) || d.Seen(fill) {
		t.Fatal("first sighting reported duplicate")
	}
	if !d.Seen(offer) || !d.Seen(fill) {
		t.Fatal("second sighting not reported")
	}
	later := offer
	later.Timestamp = now.Add(time.Second)
	if d.Seen(later) {
		t.Error("offer with a new timestamp reported duplicate")
	}

	// A redelivered fill may carry a fresh timestamp; it is still the same fill.
	now = now.Add(2 * time.Minute)
	refill := fill
	refill.Timestamp = now
	if d.Seen(offer) {
		t.Error("offer still remembered after its window")
	}
	if !d.Seen(refill) {
		t.Error("fill forgotten inside its window")
	}

	now = now.Add(10 * time.Minute)
	d.Cleanup()
	if d.Len() != 0 {
		t.Errorf("Len after cleanup = %d", d.Len())
	}
}

func TestDedupFillWithoutTokenKeepsTimestamp(t *testing.T) {
	d := NewDedup(time.Minute, 0)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := domain.MarketEvent{Kind: domain.EventCollOfferFulfilled, Collection: "bitmap", Buyer: "0xus", Timestamp: at}

	_ = d.Seen(ev)
	next := ev
	next.Timestamp = at.Add(time.Second)
	if d.Seen(next) {
		t.Error("second collection fulfilment without token id dropped")
	}
}

// recorder is an EventHandler that records order and detects overlap.
type recorder struct {
	mu      sync.Mutex
	got     []string
	active  int
	overlap bool
	block   chan struct{}
}

func (r *recorder) HandleEvent(ctx context.Context, ev domain.MarketEvent) error {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	if r.block != nil {
		<-r.block
	}
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.active--
	r.got = append(r.got, ev.TokenID)
	r.mu.Unlock()
	if ev.TokenID == "bad" {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func event(token string) domain.MarketEvent {
	return domain.MarketEvent{Kind: domain.EventOfferPlaced, Collection: "bitmap", TokenID: token, Counterparty: "bc1qthem"}
}

func stamped(token string, at time.Time) domain.MarketEvent {
	ev := event(token)
	ev.Timestamp = at
	return ev
}

func TestIngestorSerialisesInOrder(t *testing.T) {
	rec := &recorder{}
	in := New(rec, Config{InboxSize: 4}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	want := []string{"a", "bad", "b", "c", "d", "e"}
	for _, tok := range want {
		if err := in.Submit(ctx, event(tok)); err != nil {
			t.Fatalf("Submit %s: %v", tok, err)
		}
	}
	if err := in.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	got := rec.tokens()
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handled %v, want %v", got, want)
		}
	}
	if rec.overlap {
		t.Error("handlers overlapped")
	}
}

func TestIngestorFiltersOwnAndDuplicates(t *testing.T) {
	rec := &recorder{}
	in := New(rec, Config{
		DedupTTL: time.Minute,
		Wallets:  []domain.Wallet{{PaymentAddress: "bc1qus"}},
	}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	own := stamped("mine", at)
	own.Counterparty = "BC1QUS"
	_ = in.Submit(ctx, own)
	_ = in.Submit(ctx, stamped("x", at))
	_ = in.Submit(ctx, stamped("x", at))
	_ = in.Ingest(ctx, []byte(`{"kind":"unknown","collectionSymbol":"bitmap"}`))
	_ = in.WaitIdle(ctx)

	if got := rec.tokens(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("handled %v, want [x]", got)
	}
}

func TestIngestorStampsEventsWithoutTimestamp(t *testing.T) {
	rec := &recorder{}
	in := New(rec, Config{DedupTTL: time.Minute}, discard())
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	// Two offers with equal price and maker but no createdAt are distinct.
	_ = in.Submit(ctx, event("x"))
	_ = in.Submit(ctx, event("x"))
	_ = in.WaitIdle(ctx)

	if got := rec.tokens(); len(got) != 2 {
		t.Fatalf("handled %v, want both offers", got)
	}
}

func TestWaitIdleBlocksWhileProcessing(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	in := New(rec, Config{}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	_ = in.Submit(ctx, event("a"))

	short, stop := context.WithTimeout(ctx, 30*time.Millisecond)
	defer stop()
	if err := in.WaitIdle(short); err == nil {
		t.Fatal("WaitIdle returned while handler was running")
	}

	close(rec.block)
	if err := in.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	if in.Pending() != 0 {
		t.Errorf("Pending = %d", in.Pending())
	}
}

func TestSubmitBackpressure(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	in := New(rec, Config{InboxSize: 1}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	_ = in.Submit(ctx, event("a")) // taken by the consumer, which blocks
	for in.Pending() == 1 && len(in.inbox) == 1 {
		time.Sleep(time.Millisecond)
	}
	_ = in.Submit(ctx, event("b")) // fills the inbox

	short, stop := context.WithTimeout(ctx, 30*time.Millisecond)
	defer stop()
	if err := in.Submit(short, event("c")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit on full inbox = %v, want deadline exceeded", err)
	}
	if in.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", in.Pending())
	}
	close(rec.block)
}
