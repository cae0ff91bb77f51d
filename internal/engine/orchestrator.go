package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/backoff"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/ledger"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/pricing"
)

// Orchestrator applies pricing decisions for one collection. It is the only
// writer of the collection's ledger. Every mutation of an asset runs under
// that asset's lock, so the rescan and event paths never interleave on it.
type Orchestrator struct {
	state  *ledger.Collection
	policy domain.CollectionPolicy
	wallet domain.Wallet
	market domain.Marketplace
	locks  *ledger.Locks
	rec    *recorder

	verifyAttempts int
	verifyBackoff  backoff.Policy
	now            func() time.Time
	logger         *slog.Logger
}

func newOrchestrator(b Binding, locks *ledger.Locks, rec *recorder, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		state:          ledger.NewCollection(b.Policy),
		policy:         b.Policy,
		wallet:         b.Wallet,
		market:         b.Market,
		locks:          locks,
		rec:            rec,
		verifyAttempts: opts.VerifyAttempts,
		verifyBackoff:  opts.VerifyBackoff,
		now:            opts.Now,
		logger: logger.With(
			slog.String("component", "orchestrator"),
			slog.String("collection", b.Policy.Symbol),
		),
	}
}

// Symbol returns the collection symbol.
func (o *Orchestrator) Symbol() string { return o.policy.Symbol }

// Snapshot returns a copy of the collection state.
func (o *Orchestrator) Snapshot() domain.CollectionSnapshot { return o.state.Snapshot() }

// target maps a token id to what we bid on. Collection policies hold a
// single collection-wide offer whatever the token.
func (o *Orchestrator) target(tokenID string) domain.OfferTarget {
	t := domain.OfferTarget{Chain: o.policy.Chain, Symbol: o.policy.Symbol, TokenID: tokenID}
	if o.policy.OfferType == domain.OfferTypeCollection {
		t.TokenID = ""
	}
	return t
}

func (o *Orchestrator) lock(ctx context.Context, t domain.OfferTarget) (func(), error) {
	release, err := o.locks.Acquire(ctx, o.policy.Symbol+"/"+t.Key())
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", t.Key(), err)
	}
	return release, nil
}

// Reconcile observes the standing offers on tokenID, decides and applies.
func (o *Orchestrator) Reconcile(ctx context.Context, tokenID string) (pricing.Decision, error) {
	var listing decimal.Decimal
	if l, ok := o.state.Listing(tokenID); ok {
		listing = l.ListedPrice
	}
	return o.reconcile(ctx, o.target(tokenID), listing)
}

func (o *Orchestrator) reconcile(ctx context.Context, t domain.OfferTarget, listing decimal.Decimal) (pricing.Decision, error) {
	release, err := o.lock(ctx, t)
	if err != nil {
		return pricing.Decision{Action: pricing.ActionNone}, err
	}
	defer release()

	offers, err := o.market.BestOffers(ctx, t)
	if err != nil {
		return pricing.Decision{Action: pricing.ActionNone}, fmt.Errorf("engine: best offers %s: %w", t.Key(), err)
	}
	if t.IsCollection() {
		if len(offers) > 0 {
			o.state.SetCollectionOffer(&offers[0])
		} else {
			o.state.SetCollectionOffer(nil)
		}
	}
	return o.decideAndApply(ctx, t, o.input(t, listing, offers))
}

// CounterBid reacts to a competing offer seen on the feed without a round
// trip for the order book. Nothing happens unless we hold a bid the
// competitor tops.
func (o *Orchestrator) CounterBid(ctx context.Context, tokenID string, competitor domain.Offer) (pricing.Decision, error) {
	t := o.target(tokenID)
	release, err := o.lock(ctx, t)
	if err != nil {
		return pricing.Decision{Action: pricing.ActionNone}, err
	}
	defer release()

	cur, ok := o.state.Get(t.Key())
	if !ok {
		return pricing.Decision{Action: pricing.ActionNone, Reason: "no bid held"}, nil
	}
	if !competitor.Price.GreaterThan(cur.Price) {
		return pricing.Decision{Action: pricing.ActionNone, Reason: "competitor not above our bid"}, nil
	}

	var listing decimal.Decimal
	if l, ok := o.state.Listing(tokenID); ok {
		listing = l.ListedPrice
	}
	return o.decideAndApply(ctx, t, o.input(t, listing, []domain.Offer{competitor}))
}

func (o *Orchestrator) input(t domain.OfferTarget, listing decimal.Decimal, offers []domain.Offer) pricing.Input {
	in := pricing.Input{
		Policy:  o.policy,
		Floor:   o.state.Floor(),
		Listing: listing,
		Wallet:  o.wallet,
	}
	if len(offers) > 0 {
		best := offers[0]
		in.Best = &best
		o.state.MarkTop(t.Key(), o.wallet.Owns(best.Owner))
	}
	if len(offers) > 1 {
		second := offers[1].Price
		in.SecondBest = &second
	}
	if cur, ok := o.state.Get(t.Key()); ok {
		in.Current = &cur
	}
	return in
}

// decideAndApply must be called with the asset lock held.
func (o *Orchestrator) decideAndApply(ctx context.Context, t domain.OfferTarget, in pricing.Input) (pricing.Decision, error) {
	dec, err := pricing.Decide(in)
	if err != nil {
		return dec, fmt.Errorf("engine: decide %s: %w", t.Key(), err)
	}

	// At the quantity cap we only ever withdraw.
	if !o.state.CanCreate() {
		switch dec.Action {
		case pricing.ActionCreate:
			dec = pricing.Decision{Action: pricing.ActionNone, Reason: "quantity cap reached"}
		case pricing.ActionReplace:
			dec = pricing.Decision{Action: pricing.ActionCancel, Price: in.Current.Price, Reason: "quantity cap reached"}
		}
	}

	o.logger.DebugContext(ctx, "decision",
		slog.String("key", t.Key()),
		slog.String("action", string(dec.Action)),
		slog.String("price", dec.Price.String()),
		slog.String("reason", dec.Reason),
	)

	switch dec.Action {
	case pricing.ActionCreate:
		err = o.create(ctx, t, dec.Price)
	case pricing.ActionReplace:
		if err = o.cancel(ctx, t, *in.Current, dec.Reason); err == nil {
			// The old bid is gone; if the new one fails we hold nothing.
			err = o.create(ctx, t, dec.Price)
		}
	case pricing.ActionCancel:
		err = o.cancel(ctx, t, *in.Current, dec.Reason)
	}
	return dec, err
}

// create must be called with the asset lock held.
func (o *Orchestrator) create(ctx context.Context, t domain.OfferTarget, price decimal.Decimal) error {
	key := t.Key()
	o.state.BeginCreate(key)
	defer o.state.EndCreate(key)

	now := o.now()
	quantity := 1
	if t.IsCollection() {
		quantity = o.policy.QuantityCap - o.state.Purchased()
	}
	receive := o.policy.ReceiveAddress
	if receive == "" {
		receive = o.wallet.ReceiveAddress
	}

	unsigned, err := o.market.CreateOffer(ctx, domain.OfferRequest{
		Target:         t,
		Price:          price,
		Expiry:         now.Add(o.policy.Duration),
		Quantity:       quantity,
		ReceiveAddress: receive,
		PaymentAddress: o.wallet.PaymentAddress,
		PublicKey:      o.wallet.PublicKey,
	})
	if err != nil {
		return fmt.Errorf("engine: create offer %s: %w", key, err)
	}
	signed, err := o.market.Sign(ctx, unsigned)
	if err != nil {
		return fmt.Errorf("engine: sign offer %s: %w", key, err)
	}
	receipt, err := o.market.SubmitOffer(ctx, signed)
	if err != nil {
		return fmt.Errorf("engine: submit offer %s: %w", key, err)
	}
	if !receipt.OK || receipt.OrderID == "" {
		return fmt.Errorf("engine: submit offer %s: rejected: %w", key, domain.ErrInvalidOffer)
	}

	entry := domain.BidEntry{
		TokenID:   t.TokenID,
		OrderID:   receipt.OrderID,
		Price:     price,
		Quantity:  quantity,
		Expiry:    now.Add(o.policy.Duration),
		IsTop:     true,
		Status:    domain.BidStatusActive,
		CreatedAt: now,
	}
	if err := o.state.Put(key, entry); err != nil {
		return fmt.Errorf("engine: record offer %s: %w", key, err)
	}

	o.logger.InfoContext(ctx, "bid placed",
		slog.String("key", key),
		slog.String("order_id", receipt.OrderID),
		slog.String("price", price.String()),
	)
	o.rec.record(ctx, eventCreated, o.policy.Symbol, t.TokenID, map[string]any{
		"order_id": receipt.OrderID,
		"price":    price.String(),
		"expiry":   entry.Expiry,
	})

	o.verify(ctx, t, entry)
	return nil
}

// verify checks that the marketplace lists a bid it acknowledged. A bid that
// stays missing is kept but flagged, audited and alerted; the next restart
// seed re-derives the truth.
func (o *Orchestrator) verify(ctx context.Context, t domain.OfferTarget, entry domain.BidEntry) {
	if o.verifyAttempts <= 0 {
		return
	}
	key := t.Key()
	for attempt := 0; attempt < o.verifyAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.Sleep(ctx, o.verifyBackoff.Delay(attempt-1)); err != nil {
				return
			}
		}
		offers, err := o.market.Offers(ctx, t, o.wallet.PaymentAddress)
		if err != nil {
			o.logger.WarnContext(ctx, "verify offer lookup failed",
				slog.String("key", key),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, off := range offers {
			if off.ID == entry.OrderID {
				return
			}
		}
	}

	o.state.MarkUnconfirmed(key, true)
	o.logger.ErrorContext(ctx, "submitted bid not found on marketplace",
		slog.String("key", key),
		slog.String("order_id", entry.OrderID),
		slog.Int("attempts", o.verifyAttempts),
	)
	o.rec.record(ctx, eventAnomaly, o.policy.Symbol, t.TokenID, map[string]any{
		"order_id": entry.OrderID,
		"price":    entry.Price.String(),
	})
	o.rec.alert(ctx, eventAnomaly, "Bid missing after submit",
		fmt.Sprintf("%s %s: order %s at %s not listed after %d checks",
			o.policy.Symbol, key, entry.OrderID, entry.Price.String(), o.verifyAttempts))
}

// cancel must be called with the asset lock held. The entry is removed only
// once the marketplace confirmed; an already missing offer counts as
// confirmed.
func (o *Orchestrator) cancel(ctx context.Context, t domain.OfferTarget, entry domain.BidEntry, reason string) error {
	key := t.Key()
	o.state.SetStatus(key, domain.BidStatusPendingCancel)

	err := o.market.CancelOffer(ctx, domain.CancelRequest{
		Target:         t,
		OrderID:        entry.OrderID,
		PaymentAddress: o.wallet.PaymentAddress,
		PublicKey:      o.wallet.PublicKey,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.state.SetStatus(key, domain.BidStatusActive)
		return fmt.Errorf("engine: cancel offer %s: %w", key, err)
	}
	o.state.Remove(key)

	o.logger.InfoContext(ctx, "bid cancelled",
		slog.String("key", key),
		slog.String("order_id", entry.OrderID),
		slog.String("reason", reason),
	)
	o.rec.record(ctx, eventCancelled, o.policy.Symbol, t.TokenID, map[string]any{
		"order_id": entry.OrderID,
		"price":    entry.Price.String(),
		"reason":   reason,
	})
	return nil
}

// Cancel withdraws our bid on tokenID, if any.
func (o *Orchestrator) Cancel(ctx context.Context, tokenID, reason string) error {
	t := o.target(tokenID)
	release, err := o.lock(ctx, t)
	if err != nil {
		return err
	}
	defer release()

	cur, ok := o.state.Get(t.Key())
	if !ok {
		return nil
	}
	return o.cancel(ctx, t, cur, reason)
}

// Withdraw handles a token that left the market: it is dropped from the
// bottom listings and our bid on it is cancelled.
func (o *Orchestrator) Withdraw(ctx context.Context, tokenID, reason string) error {
	if o.policy.OfferType == domain.OfferTypeItem {
		o.state.DropListing(tokenID)
		return o.Cancel(ctx, tokenID, reason)
	}
	return nil
}

// CancelAll withdraws every outstanding bid of the collection. Failures are
// collected and do not stop the remaining cancels.
func (o *Orchestrator) CancelAll(ctx context.Context, reason string) error {
	var errs []error
	for _, e := range o.state.Entries() {
		if err := o.Cancel(ctx, e.TokenID, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordFill counts one of our bids as filled. Reaching the quantity cap
// withdraws every remaining bid of the collection.
func (o *Orchestrator) RecordFill(ctx context.Context, tokenID string, price decimal.Decimal) error {
	capReached, err := o.fill(ctx, tokenID, price)
	if err != nil || !capReached {
		return err
	}

	o.logger.WarnContext(ctx, "quantity cap reached", slog.Int("cap", o.policy.QuantityCap))
	o.rec.alert(ctx, eventCapReached, "Quantity cap reached",
		fmt.Sprintf("%s: %d of %d bought, cancelling outstanding bids",
			o.policy.Symbol, o.state.Purchased(), o.policy.QuantityCap))
	return o.CancelAll(ctx, "quantity cap reached")
}

func (o *Orchestrator) fill(ctx context.Context, tokenID string, price decimal.Decimal) (bool, error) {
	t := o.target(tokenID)
	release, err := o.lock(ctx, t)
	if err != nil {
		return false, err
	}
	defer release()

	entry, held := o.state.Get(t.Key())
	capReached := o.state.RecordFill(t.Key())

	o.logger.InfoContext(ctx, "bid filled",
		slog.String("token_id", tokenID),
		slog.String("price", price.String()),
		slog.Int("purchased", o.state.Purchased()),
	)
	detail := map[string]any{
		"price":     price.String(),
		"purchased": o.state.Purchased(),
		"status":    string(domain.BidStatusFilled),
	}
	if held {
		detail["order_id"] = entry.OrderID
	}
	o.rec.record(ctx, eventFilled, o.policy.Symbol, tokenID, detail)
	o.rec.alert(ctx, eventFilled, "Bid filled",
		fmt.Sprintf("%s %s bought at %s", o.policy.Symbol, tokenID, price.String()))
	return capReached, nil
}

// Seed loads our outstanding offers from the marketplace into an empty
// ledger. It runs once, before the first rescan decides anything. When the
// marketplace holds several of our offers on one asset, the highest is kept
// and the others are cancelled so a single bid per asset remains.
func (o *Orchestrator) Seed(ctx context.Context) error {
	offers, err := o.market.UserOffers(ctx, o.policy.Symbol, o.wallet.PaymentAddress)
	if err != nil {
		return fmt.Errorf("engine: seed %s: %w", o.policy.Symbol, err)
	}

	now := o.now()
	entries := make(map[string]domain.BidEntry, len(offers))
	var extra []domain.BidEntry
	for _, off := range offers {
		if off.ID == "" || (!off.ExpiresAt.IsZero() && !now.Before(off.ExpiresAt)) {
			continue
		}
		t := o.target(off.TokenID)
		entry := domain.BidEntry{
			TokenID:   t.TokenID,
			OrderID:   off.ID,
			Price:     off.Price,
			Quantity:  1,
			Expiry:    off.ExpiresAt,
			Status:    domain.BidStatusActive,
			CreatedAt: now,
		}
		if t.IsCollection() {
			// The marketplace does not report units left; assume the offer
			// still covers the whole remaining cap.
			entry.Quantity = max(o.policy.QuantityCap-o.state.Purchased(), 1)
		}
		if prev, dup := entries[t.Key()]; dup {
			if prev.Price.GreaterThanOrEqual(off.Price) {
				extra = append(extra, entry)
				continue
			}
			extra = append(extra, prev)
		}
		entries[t.Key()] = entry
	}

	// Losers go first: a failed cancel leaves the ledger unseeded so the next
	// pass seeds again and retries.
	var errs []error
	for _, e := range extra {
		if err := o.cancelDuplicate(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("engine: seed %s: %w", o.policy.Symbol, err)
	}
	o.state.Seed(entries)

	o.logger.InfoContext(ctx, "ledger seeded",
		slog.Int("offers", len(entries)),
		slog.Int("duplicates", len(extra)),
	)
	o.rec.record(ctx, eventSeeded, o.policy.Symbol, "", map[string]any{
		"offers":     len(entries),
		"duplicates": len(extra),
	})
	return nil
}

// cancelDuplicate withdraws a seeded offer that lost to a higher offer of
// ours on the same asset. It never touches the ledger entry of the winner.
func (o *Orchestrator) cancelDuplicate(ctx context.Context, e domain.BidEntry) error {
	t := o.target(e.TokenID)
	release, err := o.lock(ctx, t)
	if err != nil {
		return err
	}
	defer release()

	err = o.market.CancelOffer(ctx, domain.CancelRequest{
		Target:         t,
		OrderID:        e.OrderID,
		PaymentAddress: o.wallet.PaymentAddress,
		PublicKey:      o.wallet.PublicKey,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("engine: cancel duplicate offer %s: %w", t.Key(), err)
	}
	o.logger.InfoContext(ctx, "duplicate bid cancelled",
		slog.String("key", t.Key()),
		slog.String("order_id", e.OrderID),
		slog.String("price", e.Price.String()),
	)
	o.rec.record(ctx, eventCancelled, o.policy.Symbol, t.TokenID, map[string]any{
		"order_id": e.OrderID,
		"price":    e.Price.String(),
		"reason":   "duplicate offer",
	})
	return nil
}
