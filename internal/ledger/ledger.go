// Package ledger keeps the local record of outstanding bids for each tracked
// collection, and the per-asset lock table that serialises mutations of the
// same asset coming from the rescan and event paths.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Collection is the state of one tracked collection. Entries are keyed by
// token id, or by the collection symbol for a collection-wide offer, so there
// is at most one bid per asset. All methods are safe for concurrent use.
type Collection struct {
	mu sync.RWMutex

	policy          domain.CollectionPolicy
	entries         map[string]domain.BidEntry
	pending         map[string]struct{}
	bottom          []domain.BottomListing
	purchased       int
	floor           decimal.Decimal
	collectionOffer *domain.Offer

	seeded        bool
	firstPassDone bool
	lastPass      time.Time
}

// NewCollection creates an empty state for the policy.
func NewCollection(p domain.CollectionPolicy) *Collection {
	return &Collection{
		policy:  p,
		entries: make(map[string]domain.BidEntry),
		pending: make(map[string]struct{}),
	}
}

// Policy returns the collection's policy.
func (c *Collection) Policy() domain.CollectionPolicy {
	return c.policy
}

// Get returns the entry for key.
func (c *Collection) Get(key string) (domain.BidEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put records e as the single bid on key, replacing any previous entry. When
// the policy sets a maximum bid, the price must lie within the policy's
// absolute bounds.
func (c *Collection) Put(key string, e domain.BidEntry) error {
	if key == "" {
		return fmt.Errorf("ledger: put: empty key")
	}
	if e.OrderID == "" {
		return fmt.Errorf("ledger: put %s: empty order id", key)
	}
	if e.Price.IsNegative() {
		return fmt.Errorf("ledger: put %s: negative price %s", key, e.Price)
	}
	if p := c.policy; p.MaxBid.IsPositive() && (e.Price.LessThan(p.MinBid) || e.Price.GreaterThan(p.MaxBid)) {
		return fmt.Errorf("ledger: put %s: price %s outside [%s, %s]", key, e.Price, p.MinBid, p.MaxBid)
	}
	if e.Quantity < 1 {
		e.Quantity = 1
	}
	if e.Status == "" {
		e.Status = domain.BidStatusActive
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
	c.entries[key] = e
	return nil
}

// Remove deletes the entry for key and returns it.
func (c *Collection) Remove(key string) (domain.BidEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	delete(c.entries, key)
	return e, ok
}

// SetStatus changes the status of an existing entry.
func (c *Collection) SetStatus(key string, status domain.BidStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.Status = status
	c.entries[key] = e
	return true
}

// MarkTop records whether our bid on key is currently the best offer.
func (c *Collection) MarkTop(key string, top bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.IsTop = top
		c.entries[key] = e
	}
}

// MarkUnconfirmed flags an entry whose submission was acknowledged but that
// the marketplace does not list.
func (c *Collection) MarkUnconfirmed(key string, unconfirmed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Unconfirmed = unconfirmed
		c.entries[key] = e
	}
}

// BeginCreate marks key as having a create in flight.
func (c *Collection) BeginCreate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key] = struct{}{}
}

// EndCreate clears the in-flight create marker for key.
func (c *Collection) EndCreate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
}

// Status returns the lifecycle state of our bid on key.
func (c *Collection) Status(key string) domain.BidStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return e.Status
	}
	if _, ok := c.pending[key]; ok {
		return domain.BidStatusPendingCreate
	}
	return domain.BidStatusNone
}

// Entries returns a copy of all entries ordered by token id.
func (c *Collection) Entries() []domain.BidEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedEntries()
}

func (c *Collection) sortedEntries() []domain.BidEntry {
	out := make([]domain.BidEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Len returns the number of outstanding bids.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PruneExpired removes and returns entries whose expiry has passed.
func (c *Collection) PruneExpired(now time.Time) []domain.BidEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired []domain.BidEntry
	for key, e := range c.entries {
		if e.Expired(now) {
			e.Status = domain.BidStatusExpired
			expired = append(expired, e)
			delete(c.entries, key)
		}
	}
	return expired
}

// Seed loads the marketplace's view of our outstanding offers. Keys that
// already have an entry keep it. Seed marks the collection seeded even when
// offers is empty.
func (c *Collection) Seed(offers map[string]domain.BidEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range offers {
		if _, ok := c.entries[key]; ok {
			continue
		}
		e.Seeded = true
		if e.Quantity < 1 {
			e.Quantity = 1
		}
		if e.Status == "" {
			e.Status = domain.BidStatusActive
		}
		c.entries[key] = e
	}
	c.seeded = true
}

// Seeded reports whether restart seeding has completed.
func (c *Collection) Seeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seeded
}

// CompleteFirstPass records a finished rescan. Seeded entries lose their
// protection against the cancel set from here on.
func (c *Collection) CompleteFirstPass(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.firstPassDone = true
	c.lastPass = at
	for key, e := range c.entries {
		if e.Seeded {
			e.Seeded = false
			c.entries[key] = e
		}
	}
}

// FirstPassDone reports whether at least one full rescan completed.
func (c *Collection) FirstPassDone() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.firstPassDone
}

// SetBottomListings stores the newest bottom-of-book snapshot.
func (c *Collection) SetBottomListings(listings []domain.BottomListing) {
	cp := make([]domain.BottomListing, len(listings))
	copy(cp, listings)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bottom = cp
}

// BottomListings returns a copy of the last bottom-of-book snapshot.
func (c *Collection) BottomListings() []domain.BottomListing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]domain.BottomListing, len(c.bottom))
	copy(cp, c.bottom)
	return cp
}

// Listing looks a token up in the bottom-of-book snapshot.
func (c *Collection) Listing(tokenID string) (domain.BottomListing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.bottom {
		if l.TokenID == tokenID {
			return l, true
		}
	}
	return domain.BottomListing{}, false
}

// DropListing removes a token from the bottom-of-book snapshot, for example
// after it was bought.
func (c *Collection) DropListing(tokenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.bottom[:0]
	for _, l := range c.bottom {
		if l.TokenID != tokenID {
			out = append(out, l)
		}
	}
	c.bottom = out
}

// SetFloor stores the last observed floor price.
func (c *Collection) SetFloor(floor decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.floor = floor
}

// Floor returns the last observed floor price, zero if none yet.
func (c *Collection) Floor() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.floor
}

// SetCollectionOffer stores the highest standing collection-wide offer.
func (c *Collection) SetCollectionOffer(o *domain.Offer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o == nil {
		c.collectionOffer = nil
		return
	}
	cp := *o
	c.collectionOffer = &cp
}

// CollectionOffer returns the highest collection-wide offer seen, if any.
func (c *Collection) CollectionOffer() *domain.Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.collectionOffer == nil {
		return nil
	}
	cp := *c.collectionOffer
	return &cp
}

// CanCreate reports whether another bid may be created without exceeding
// the quantity cap.
func (c *Collection) CanCreate() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.purchased < c.policy.QuantityCap
}

// RecordFill counts one purchase against the bid on key. A collection-wide
// offer with units left stays recorded with its quantity reduced, since it is
// still live on the marketplace; any other entry is removed. It reports
// whether the quantity cap is now reached. The count never exceeds the cap.
func (c *Collection) RecordFill(key string) (capReached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.Quantity > 1 {
		e.Quantity--
		c.entries[key] = e
	} else {
		delete(c.entries, key)
	}
	if c.purchased < c.policy.QuantityCap {
		c.purchased++
	}
	return c.purchased >= c.policy.QuantityCap
}

// Purchased returns the number of fills counted so far.
func (c *Collection) Purchased() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.purchased
}

// Snapshot returns a serialisable copy of the whole state.
func (c *Collection) Snapshot() domain.CollectionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bottom := make([]domain.BottomListing, len(c.bottom))
	copy(bottom, c.bottom)

	snap := domain.CollectionSnapshot{
		Symbol:         c.policy.Symbol,
		Chain:          c.policy.Chain,
		OfferType:      c.policy.OfferType,
		Entries:        c.sortedEntries(),
		BottomListings: bottom,
		Purchased:      c.purchased,
		QuantityCap:    c.policy.QuantityCap,
		FloorPrice:     c.floor,
		Seeded:         c.seeded,
		LastPassAt:     c.lastPass,
	}
	if c.collectionOffer != nil {
		cp := *c.collectionOffer
		snap.HighestCollectionOffer = &cp
	}
	return snap
}
