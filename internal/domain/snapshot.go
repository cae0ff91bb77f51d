package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollectionSnapshot is the serialisable view of one collection's state.
type CollectionSnapshot struct {
	Symbol                 string          `json:"symbol"`
	Chain                  Chain           `json:"chain"`
	OfferType              OfferType       `json:"offer_type"`
	Entries                []BidEntry      `json:"entries"`
	BottomListings         []BottomListing `json:"bottom_listings"`
	Purchased              int             `json:"purchased"`
	QuantityCap            int             `json:"quantity_cap"`
	FloorPrice             decimal.Decimal `json:"floor_price"`
	HighestCollectionOffer *Offer          `json:"highest_collection_offer,omitempty"`
	Seeded                 bool            `json:"seeded"`
	LastPassAt             time.Time       `json:"last_pass_at"`
}

// LedgerSnapshot is the flat snapshot written on shutdown.
type LedgerSnapshot struct {
	TakenAt     time.Time            `json:"taken_at"`
	Collections []CollectionSnapshot `json:"collections"`
}
