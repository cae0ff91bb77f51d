package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OfferTarget identifies what an offer is placed on. An empty TokenID means
// a collection-wide offer.
type OfferTarget struct {
	Chain   Chain
	Symbol  string
	TokenID string
}

// IsCollection reports whether the target is a collection-wide offer.
func (t OfferTarget) IsCollection() bool {
	return t.TokenID == ""
}

// Key is the ledger key for the target.
func (t OfferTarget) Key() string {
	if t.IsCollection() {
		return t.Symbol
	}
	return t.TokenID
}

// OfferRequest carries everything a marketplace needs to prepare an offer.
type OfferRequest struct {
	Target         OfferTarget
	Price          decimal.Decimal
	Expiry         time.Time
	Quantity       int
	ReceiveAddress string
	PaymentAddress string
	PublicKey      string
}

// SignKind tells the signer how to treat an unsigned payload.
type SignKind string

const (
	SignPSBT   SignKind = "psbt"
	SignEIP712 SignKind = "eip712"
)

// UnsignedOffer is the marketplace-prepared payload awaiting a signature.
// Payload is opaque to the engine; Submit carries adapter data needed to
// post the signed result.
type UnsignedOffer struct {
	Request OfferRequest
	Kind    SignKind
	Payload json.RawMessage
	Submit  json.RawMessage
}

// SignedOffer is an UnsignedOffer plus its signature.
type SignedOffer struct {
	UnsignedOffer
	Signature string
}

// OfferReceipt is the marketplace answer to a submitted offer.
type OfferReceipt struct {
	OK      bool
	OrderID string
}

// CancelRequest identifies an offer to withdraw.
type CancelRequest struct {
	Target         OfferTarget
	OrderID        string
	PaymentAddress string
	PublicKey      string
}

// Signer signs marketplace payloads for one wallet.
type Signer interface {
	Sign(ctx context.Context, kind SignKind, payload json.RawMessage) (string, error)
	Address() string
}

// OrderGateway is the capability set each chain adapter implements for
// offers.
type OrderGateway interface {
	CreateOffer(ctx context.Context, req OfferRequest) (UnsignedOffer, error)
	Sign(ctx context.Context, offer UnsignedOffer) (SignedOffer, error)
	SubmitOffer(ctx context.Context, offer SignedOffer) (OfferReceipt, error)
	CancelOffer(ctx context.Context, req CancelRequest) error
	// BestOffers returns standing offers on the target, highest first.
	BestOffers(ctx context.Context, target OfferTarget) ([]Offer, error)
	Offers(ctx context.Context, target OfferTarget, buyer string) ([]Offer, error)
	UserOffers(ctx context.Context, symbol, buyer string) ([]Offer, error)
}

// MarketData reads collection-level listing data.
type MarketData interface {
	FloorPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// BottomListings returns the n cheapest listed tokens, cheapest first.
	BottomListings(ctx context.Context, symbol string, n int) ([]BottomListing, error)
}

// Marketplace is a full chain adapter.
type Marketplace interface {
	OrderGateway
	MarketData
}
