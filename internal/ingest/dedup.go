package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Dedup drops feed events delivered more than once, which the feed does for
// its last frames after every reconnect. Offer activity is remembered for
// ttl and keyed by its full content including the timestamp. Fills are
// remembered for fillTTL and keyed by asset and buyer only, so a redelivered
// fill is never counted twice. It is safe for concurrent use.
type Dedup struct {
	mu      sync.Mutex
	expires map[string]time.Time // event key -> forgotten at
	ttl     time.Duration
	fillTTL time.Duration
	now     func() time.Time
}

// NewDedup creates a Dedup. A non-positive ttl disables it for that class
// of events; a zero fillTTL falls back to ttl.
func NewDedup(ttl, fillTTL time.Duration) *Dedup {
	if fillTTL == 0 {
		fillTTL = ttl
	}
	return &Dedup{
		expires: make(map[string]time.Time),
		ttl:     ttl,
		fillTTL: fillTTL,
		now:     time.Now,
	}
}

// Seen reports whether ev was already delivered inside its window. A first
// sighting is recorded.
func (d *Dedup) Seen(ev domain.MarketEvent) bool {
	ttl := d.ttl
	if isFill(ev) {
		ttl = d.fillTTL
	}
	if ttl <= 0 {
		return false
	}
	key := dedupKey(ev)

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.expires[key]; ok && now.Before(exp) {
		return true
	}
	d.expires[key] = now.Add(ttl)
	return false
}

// Cleanup forgets keys whose window has passed.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for key, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, key)
		}
	}
}

// Len returns the number of remembered keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.expires)
}

// isFill reports whether ev completes a purchase of a known asset. A
// collection offer fulfilment without token id cannot be told apart from
// the next one and is keyed like offer activity.
func isFill(ev domain.MarketEvent) bool {
	switch ev.Kind {
	case domain.EventBuyingBroadcasted, domain.EventOfferAccepted, domain.EventCollOfferFulfilled:
		return ev.TokenID != ""
	}
	return false
}

func dedupKey(ev domain.MarketEvent) string {
	if isFill(ev) {
		return fmt.Sprintf("%s|%s|%s|%s", ev.Kind, ev.Collection, ev.TokenID, ev.Buyer)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		ev.Kind, ev.Collection, ev.TokenID, ev.Price.String(), ev.Counterparty, ev.Timestamp.UnixNano())
}
