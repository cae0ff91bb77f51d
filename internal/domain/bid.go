package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OfferType selects whether a collection is bid per item or with one
// collection-wide (criteria) offer.
type OfferType string

const (
	OfferTypeItem       OfferType = "ITEM"
	OfferTypeCollection OfferType = "COLLECTION"
)

// Chain names the settlement network of a collection. Anything other than
// ChainBitcoin is served by the EVM adapter.
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
	ChainPolygon  Chain = "polygon"
)

// IsEVM reports whether the chain is served by the EVM adapter.
func (c Chain) IsEVM() bool {
	return c != ChainBitcoin && c != ""
}

// CollectionPolicy is the immutable per-collection bidding configuration.
// Amounts are in the chain's display unit (BTC, ETH). Floor percentages are
// whole percents; zero disables that floor-relative bound.
type CollectionPolicy struct {
	Symbol               string
	Chain                Chain
	OfferType            OfferType
	MinBid               decimal.Decimal
	MaxBid               decimal.Decimal
	MinFloorPct          decimal.Decimal
	MaxFloorPct          decimal.Decimal
	OutBidMargin         decimal.Decimal
	BidCount             int
	Duration             time.Duration
	QuantityCap          int
	EnableCounterBidding bool
	RescanInterval       time.Duration
	FundingWallet        string
	ReceiveAddress       string
}

// FloorRelative reports whether either bound depends on the floor price.
func (p CollectionPolicy) FloorRelative() bool {
	return p.MinFloorPct.IsPositive() || p.MaxFloorPct.IsPositive()
}

// BidStatus is the lifecycle state of our bid on one asset.
type BidStatus string

const (
	BidStatusNone          BidStatus = "NO_BID"
	BidStatusPendingCreate BidStatus = "PENDING_CREATE"
	BidStatusActive        BidStatus = "ACTIVE"
	BidStatusPendingCancel BidStatus = "PENDING_CANCEL"
	BidStatusExpired       BidStatus = "EXPIRED"
	BidStatusFilled        BidStatus = "FILLED"
)

// BidEntry is the local record of one outstanding bid. Quantity is the
// number of units the offer can still buy; it is above one only for
// collection-wide offers.
type BidEntry struct {
	TokenID     string          `json:"token_id"`
	OrderID     string          `json:"order_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Expiry      time.Time       `json:"expiry"`
	IsTop       bool            `json:"is_top"`
	Status      BidStatus       `json:"status"`
	Seeded      bool            `json:"seeded,omitempty"`
	Unconfirmed bool            `json:"unconfirmed,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Expired reports whether the bid has passed its expiry at now.
func (e BidEntry) Expired(now time.Time) bool {
	return !e.Expiry.IsZero() && !now.Before(e.Expiry)
}

// BottomListing is one of the cheapest listed assets of a collection.
type BottomListing struct {
	TokenID     string          `json:"token_id"`
	ListedPrice decimal.Decimal `json:"listed_price"`
}

// Offer is a standing offer as reported by the marketplace.
type Offer struct {
	ID        string          `json:"id"`
	TokenID   string          `json:"token_id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Owner     string          `json:"owner"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// OwnedBy compares the offer owner to addr, ignoring case so EVM checksum
// and lower-case hex addresses match.
func (o Offer) OwnedBy(addr string) bool {
	return addr != "" && strings.EqualFold(o.Owner, addr)
}

// Wallet holds the addresses a collection bids from.
type Wallet struct {
	Name           string
	PaymentAddress string
	ReceiveAddress string
	PublicKey      string
}

// Owns reports whether addr belongs to this wallet.
func (w Wallet) Owns(addr string) bool {
	if addr == "" {
		return false
	}
	return strings.EqualFold(addr, w.PaymentAddress) || strings.EqualFold(addr, w.ReceiveAddress)
}
