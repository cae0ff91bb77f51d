package engine

import (
	"context"
	"log/slog"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/pricing"
)

// HandleEvent applies one normalized feed event. Events of untracked
// collections are ignored.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.MarketEvent) error {
	o, ok := e.orchestrators[ev.Collection]
	if !ok {
		return nil
	}
	item := o.policy.OfferType == domain.OfferTypeItem

	switch ev.Kind {
	case domain.EventOfferPlaced:
		if !item || !o.policy.EnableCounterBidding {
			return nil
		}
		dec, err := o.counter(ctx, ev)
		return o.logDecision(ctx, ev, dec, err)

	case domain.EventCollOfferCreated:
		if item || !o.policy.EnableCounterBidding {
			return nil
		}
		dec, err := o.counter(ctx, ev)
		return o.logDecision(ctx, ev, dec, err)

	case domain.EventOfferCancelled:
		// A withdrawn competitor may let us lower our bid.
		if _, held := o.state.Get(o.target(ev.TokenID).Key()); !held {
			return nil
		}
		dec, err := o.Reconcile(ctx, ev.TokenID)
		return o.logDecision(ctx, ev, dec, err)

	case domain.EventBuyingBroadcasted:
		return o.Withdraw(ctx, ev.TokenID, "token bought")

	case domain.EventOfferAccepted:
		if o.wallet.Owns(ev.Buyer) {
			return o.RecordFill(ctx, ev.TokenID, ev.Price)
		}
		return o.Withdraw(ctx, ev.TokenID, "token sold")

	case domain.EventCollOfferFulfilled:
		if !item && o.wallet.Owns(ev.Buyer) {
			return o.RecordFill(ctx, ev.TokenID, ev.Price)
		}
	}
	return nil
}

func (o *Orchestrator) counter(ctx context.Context, ev domain.MarketEvent) (pricing.Decision, error) {
	return o.CounterBid(ctx, ev.TokenID, domain.Offer{
		TokenID: ev.TokenID,
		Price:   ev.Price,
		Owner:   ev.Counterparty,
	})
}

func (o *Orchestrator) logDecision(ctx context.Context, ev domain.MarketEvent, dec pricing.Decision, err error) error {
	if err != nil {
		return err
	}
	if dec.Action != pricing.ActionNone {
		o.logger.InfoContext(ctx, "event applied",
			slog.String("kind", string(ev.Kind)),
			slog.String("token_id", ev.TokenID),
			slog.String("action", string(dec.Action)),
			slog.String("price", dec.Price.String()),
		)
	}
	return nil
}
