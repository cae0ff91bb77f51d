// Package pricing decides which bid to hold on a single asset given the
// collection policy and the offers standing around it. Everything here is a
// pure function of its input.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Action is what the orchestrator should do with the asset.
type Action string

const (
	ActionNone    Action = "NONE"
	ActionCreate  Action = "CREATE"
	ActionReplace Action = "REPLACE"
	ActionCancel  Action = "CANCEL"
)

// pricePlaces is the precision bids are quoted at (one satoshi in BTC).
const pricePlaces = 8

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.RequireFromString("0.5")
)

// Decision is the outcome for one asset. Price is the new bid price for
// CREATE and REPLACE and the price being withdrawn for CANCEL.
type Decision struct {
	Action Action
	Price  decimal.Decimal
	Reason string
}

// Input is one market observation for one asset.
type Input struct {
	Policy domain.CollectionPolicy
	Floor  decimal.Decimal
	// Listing is the asset's listed price; zero for collection offers.
	Listing decimal.Decimal
	// Best and SecondBest are the two highest standing offers, ours included.
	Best       *domain.Offer
	SecondBest *decimal.Decimal
	Current    *domain.BidEntry
	Wallet     domain.Wallet
}

// Bounds returns [minOffer, maxOffer] for the policy at the given floor.
// minOffer is rounded up and maxOffer down to bid precision so both are
// placeable prices inside the exact bounds.
func Bounds(p domain.CollectionPolicy, floor decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if p.FloorRelative() && !floor.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("pricing: floor %s: %w", floor.String(), domain.ErrInvalidFloor)
	}

	minOffer := p.MinBid
	if p.MinFloorPct.IsPositive() {
		minOffer = decimal.Max(minOffer, floor.Mul(p.MinFloorPct).Div(hundred))
	}
	maxOffer := p.MaxBid
	if p.MaxFloorPct.IsPositive() {
		maxOffer = decimal.Min(maxOffer, floor.Mul(p.MaxFloorPct).Div(hundred))
	}
	return minOffer.RoundCeil(pricePlaces), maxOffer.RoundFloor(pricePlaces), nil
}

// Decide applies the bidding rules in order:
//
//  1. invalid floor with floor-relative bounds: NONE and an error
//  2. no competing offer: bid max(minOffer, listing/2)
//  3. someone else is top: bid their price plus the outbid margin
//  4. we are top over a second offer by more than the margin: drop to
//     second plus margin
//  5. we are top alone: converge to minOffer
//
// Any target above maxOffer withdraws the bid we hold, or does nothing.
func Decide(in Input) (Decision, error) {
	minOffer, maxOffer, err := Bounds(in.Policy, in.Floor)
	if err != nil {
		return Decision{Action: ActionNone, Reason: "invalid floor"}, err
	}
	margin := in.Policy.OutBidMargin

	if in.Best == nil {
		target := minOffer
		if in.Listing.IsPositive() {
			target = decimal.Max(minOffer, in.Listing.Mul(half).RoundCeil(pricePlaces))
		}
		return settle(in.Current, target, maxOffer, "no competing offer"), nil
	}

	if !in.Wallet.Owns(in.Best.Owner) {
		target := decimal.Max(in.Best.Price.Add(margin), minOffer)
		return settle(in.Current, target, maxOffer, "outbid"), nil
	}

	// We are top. Without a ledger entry there is no order id to adjust.
	if in.Current == nil {
		return Decision{Action: ActionNone, Reason: "top offer not tracked"}, nil
	}
	if in.SecondBest != nil {
		if in.Best.Price.Sub(*in.SecondBest).GreaterThan(margin) {
			target := decimal.Max(in.SecondBest.Add(margin), minOffer)
			return settle(in.Current, target, maxOffer, "lower to second best"), nil
		}
		return settle(in.Current, decimal.Max(in.Current.Price, minOffer), maxOffer, "hold top"), nil
	}
	return settle(in.Current, minOffer, maxOffer, "converge to minimum"), nil
}

// settle turns a target price into an action relative to the bid we hold.
func settle(cur *domain.BidEntry, target, maxOffer decimal.Decimal, reason string) Decision {
	if target.GreaterThan(maxOffer) {
		if cur != nil {
			return Decision{Action: ActionCancel, Price: cur.Price, Reason: reason + ": above max"}
		}
		return Decision{Action: ActionNone, Reason: reason + ": above max"}
	}
	if cur == nil {
		return Decision{Action: ActionCreate, Price: target, Reason: reason}
	}
	if cur.Price.Equal(target) {
		return Decision{Action: ActionNone, Price: target, Reason: reason}
	}
	return Decision{Action: ActionReplace, Price: target, Reason: reason}
}
