package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is a recognised marketplace activity kind.
type EventKind string

const (
	EventOfferPlaced        EventKind = "offer_placed"
	EventCollOfferCreated   EventKind = "coll_offer_created"
	EventOfferCancelled     EventKind = "offer_cancelled"
	EventBuyingBroadcasted  EventKind = "buying_broadcasted"
	EventOfferAccepted      EventKind = "offer_accepted_broadcasted"
	EventCollOfferFulfilled EventKind = "coll_offer_fulfill_broadcasted"
)

var knownKinds = map[EventKind]bool{
	EventOfferPlaced:        true,
	EventCollOfferCreated:   true,
	EventOfferCancelled:     true,
	EventBuyingBroadcasted:  true,
	EventOfferAccepted:      true,
	EventCollOfferFulfilled: true,
}

// Known reports whether k is one of the handled kinds.
func (k EventKind) Known() bool {
	return knownKinds[k]
}

// MarketEvent is a normalized real-time marketplace event.
//
// Counterparty is the address that initiated the activity (offer maker,
// purchaser, or the seller accepting an offer). Buyer is the offer owner
// on fills, which is how our own fills are recognised.
type MarketEvent struct {
	Kind         EventKind
	Collection   string
	TokenID      string
	Price        decimal.Decimal
	Counterparty string
	Buyer        string
	Timestamp    time.Time
}

// EventHandler consumes normalized events one at a time.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev MarketEvent) error
}
