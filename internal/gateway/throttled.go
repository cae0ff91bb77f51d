package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Throttled wraps a marketplace so that at most maxInFlight calls run at
// once and each call first waits on the rate limiter. Callers block for
// capacity; no call is dropped. Sign is local and bypasses the queue.
type Throttled struct {
	next    domain.Marketplace
	limiter domain.RateLimiter
	sem     *semaphore.Weighted

	inFlight atomic.Int64
	calls    atomic.Int64
}

// Stats is a point-in-time view of the work queue.
type Stats struct {
	InFlight int64 `json:"in_flight"`
	Calls    int64 `json:"calls"`
}

// NewThrottled creates the work queue in front of next.
func NewThrottled(next domain.Marketplace, limiter domain.RateLimiter, maxInFlight int64) *Throttled {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Throttled{
		next:    next,
		limiter: limiter,
		sem:     semaphore.NewWeighted(maxInFlight),
	}
}

// Stats returns the current queue counters.
func (t *Throttled) Stats() Stats {
	return Stats{InFlight: t.inFlight.Load(), Calls: t.calls.Load()}
}

func call[T any](ctx context.Context, t *Throttled, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("gateway: %s: acquire slot: %w", op, err)
	}
	defer t.sem.Release(1)

	if err := t.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("gateway: %s: %w", op, err)
	}

	t.inFlight.Add(1)
	t.calls.Add(1)
	defer t.inFlight.Add(-1)
	return fn(ctx)
}

func (t *Throttled) CreateOffer(ctx context.Context, req domain.OfferRequest) (domain.UnsignedOffer, error) {
	return call(ctx, t, "create offer", func(ctx context.Context) (domain.UnsignedOffer, error) {
		return t.next.CreateOffer(ctx, req)
	})
}

func (t *Throttled) Sign(ctx context.Context, offer domain.UnsignedOffer) (domain.SignedOffer, error) {
	return t.next.Sign(ctx, offer)
}

func (t *Throttled) SubmitOffer(ctx context.Context, offer domain.SignedOffer) (domain.OfferReceipt, error) {
	return call(ctx, t, "submit offer", func(ctx context.Context) (domain.OfferReceipt, error) {
		return t.next.SubmitOffer(ctx, offer)
	})
}

func (t *Throttled) CancelOffer(ctx context.Context, req domain.CancelRequest) error {
	_, err := call(ctx, t, "cancel offer", func(ctx context.Context) (json.RawMessage, error) {
		return nil, t.next.CancelOffer(ctx, req)
	})
	return err
}

func (t *Throttled) BestOffers(ctx context.Context, target domain.OfferTarget) ([]domain.Offer, error) {
	return call(ctx, t, "best offers", func(ctx context.Context) ([]domain.Offer, error) {
		return t.next.BestOffers(ctx, target)
	})
}

func (t *Throttled) Offers(ctx context.Context, target domain.OfferTarget, buyer string) ([]domain.Offer, error) {
	return call(ctx, t, "offers", func(ctx context.Context) ([]domain.Offer, error) {
		return t.next.Offers(ctx, target, buyer)
	})
}

func (t *Throttled) UserOffers(ctx context.Context, symbol, buyer string) ([]domain.Offer, error) {
	return call(ctx, t, "user offers", func(ctx context.Context) ([]domain.Offer, error) {
		return t.next.UserOffers(ctx, symbol, buyer)
	})
}

func (t *Throttled) FloorPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return call(ctx, t, "floor price", func(ctx context.Context) (decimal.Decimal, error) {
		return t.next.FloorPrice(ctx, symbol)
	})
}

func (t *Throttled) BottomListings(ctx context.Context, symbol string, n int) ([]domain.BottomListing, error) {
	return call(ctx, t, "bottom listings", func(ctx context.Context) ([]domain.BottomListing, error) {
		return t.next.BottomListings(ctx, symbol, n)
	})
}

var _ domain.Marketplace = (*Throttled)(nil)
