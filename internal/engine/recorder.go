package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Alerter delivers operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Audit and alert event names.
const (
	eventCreated     = "bid_created"
	eventCancelled   = "bid_cancelled"
	eventExpired     = "bid_expired"
	eventFilled      = "bid_filled"
	eventAnomaly     = "anomaly"
	eventCapReached  = "quantity_cap_reached"
	eventStreamGone  = "stream_gave_up"
	eventSeeded      = "ledger_seeded"
	eventPassAborted = "pass_aborted"
)

// BidChannelPrefix is the pub/sub channel prefix for ledger changes; the
// collection symbol is appended.
const BidChannelPrefix = "bidbot:bids:"

// bidEvent is the published form of one ledger change.
type bidEvent struct {
	Event      string         `json:"event"`
	Collection string         `json:"collection"`
	TokenID    string         `json:"token_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// recorder fans one engine action out to the optional audit store, pub/sub
// publisher and operator alerts. Failures are logged, never returned.
type recorder struct {
	audit     domain.AuditStore
	publisher domain.EventPublisher
	alerter   Alerter
	now       func() time.Time
	logger    *slog.Logger
}

func (r *recorder) record(ctx context.Context, event, collection, tokenID string, detail map[string]any) {
	at := r.now()
	if r.audit != nil {
		err := r.audit.Log(ctx, domain.AuditEntry{
			Event:      event,
			Collection: collection,
			TokenID:    tokenID,
			Detail:     detail,
			CreatedAt:  at,
		})
		if err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.publisher != nil {
		payload, err := json.Marshal(bidEvent{Event: event, Collection: collection, TokenID: tokenID, Detail: detail, At: at})
		if err == nil {
			err = r.publisher.Publish(ctx, BidChannelPrefix+collection, payload)
		}
		if err != nil {
			r.logger.WarnContext(ctx, "publish bid event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *recorder) alert(ctx context.Context, event, title, message string) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
