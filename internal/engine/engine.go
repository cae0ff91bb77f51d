// Package engine is the bid reconciliation engine: per-collection
// orchestrators that own the bid ledger, the event dispatcher that feeds
// them from the activity stream, and the rescan scheduler.
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
)

// Binding ties a collection policy to the wallet it bids from and the
// marketplace that serves its chain.
type Binding struct {
	Policy domain.CollectionPolicy
	Wallet domain.Wallet
	Market domain.Marketplace
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	LockTimeout      time.Duration
	VerifyAttempts   int
	VerifyBackoff    backoff.Policy
	AssetConcurrency int
	Audit            domain.AuditStore
	Publisher        domain.EventPublisher
	Alerter          Alerter
	Now              func() time.Time
}

// Engine holds one orchestrator per tracked collection.
type Engine struct {
	orchestrators map[string]*Orchestrator
	order         []string
	rec           *recorder
	opts          Options
	logger        *slog.Logger
}

// New creates the engine. Collection symbols must be unique.
func New(bindings []Binding, opts Options, logger *slog.Logger) (*Engine, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Minute
	}
	if opts.VerifyBackoff.Initial <= 0 {
		opts.VerifyBackoff = backoff.Policy{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2}
	}
	if opts.AssetConcurrency < 1 {
		opts.AssetConcurrency = 4
	}

	e := &Engine{
		orchestrators: make(map[string]*Orchestrator, len(bindings)),
		opts:          opts,
		logger:        logger.With(slog.String("component", "engine")),
	}
	e.rec = &recorder{
		audit:     opts.Audit,
		publisher: opts.Publisher,
		alerter:   opts.Alerter,
		now:       opts.Now,
		logger:    e.logger,
	}

	locks := ledger.NewLocks(opts.LockTimeout)
	for _, b := range bindings {
		sym := b.Policy.Symbol
		if sym == "" {
			return nil, fmt.Errorf("engine: collection without symbol")
		}
		if _, dup := e.orchestrators[sym]; dup {
			return nil, fmt.Errorf("engine: duplicate collection %q", sym)
		}
		if b.Market == nil {
			return nil, fmt.Errorf("engine: collection %s: no marketplace", sym)
		}
		e.orchestrators[sym] = newOrchestrator(b, locks, e.rec, opts, logger)
		e.order = append(e.order, sym)
	}
	return e, nil
}

// Orchestrators returns the orchestrators in configuration order.
func (e *Engine) Orchestrators() []*Orchestrator {
	out := make([]*Orchestrator, 0, len(e.order))
	for _, sym := range e.order {
		out = append(out, e.orchestrators[sym])
	}
	return out
}

// Orchestrator returns the orchestrator for symbol.
func (e *Engine) Orchestrator(symbol string) (*Orchestrator, error) {
	o, ok := e.orchestrators[symbol]
	if !ok {
		return nil, fmt.Errorf("engine: %s: %w", symbol, domain.ErrUnknownCollection)
	}
	return o, nil
}

// Symbols returns the tracked collection symbols in configuration order.
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.order...)
}

// Snapshot captures every collection state.
func (e *Engine) Snapshot() domain.LedgerSnapshot {
	snap := domain.LedgerSnapshot{TakenAt: e.opts.Now().UTC()}
	for _, o := range e.Orchestrators() {
		snap.Collections = append(snap.Collections, o.Snapshot())
	}
	return snap
}

// Collection returns the state of one collection.
func (e *Engine) Collection(symbol string) (domain.CollectionSnapshot, error) {
	o, err := e.Orchestrator(symbol)
	if err != nil {
		return domain.CollectionSnapshot{}, err
	}
	return o.Snapshot(), nil
}

// Summary is the short status line of one collection.
type Summary struct {
	Symbol      string           `json:"symbol"`
	Chain       domain.Chain     `json:"chain"`
	OfferType   domain.OfferType `json:"offer_type"`
	ActiveBids  int              `json:"active_bids"`
	TopBids     int              `json:"top_bids"`
	Unconfirmed int              `json:"unconfirmed"`
	Purchased   int              `json:"purchased"`
	QuantityCap int              `json:"quantity_cap"`
	FloorPrice  decimal.Decimal  `json:"floor_price"`
	LastPassAt  time.Time        `json:"last_pass_at"`
}

// Summaries returns one summary per collection.
func (e *Engine) Summaries() []Summary {
	out := make([]Summary, 0, len(e.order))
	for _, o := range e.Orchestrators() {
		snap := o.Snapshot()
		s := Summary{
			Symbol:      snap.Symbol,
			Chain:       snap.Chain,
			OfferType:   snap.OfferType,
			ActiveBids:  len(snap.Entries),
			Purchased:   snap.Purchased,
			QuantityCap: snap.QuantityCap,
			FloorPrice:  snap.FloorPrice,
			LastPassAt:  snap.LastPassAt,
		}
		for _, en := range snap.Entries {
			if en.IsTop {
				s.TopBids++
			}
			if en.Unconfirmed {
				s.Unconfirmed++
			}
		}
		out = append(out, s)
	}
	return out
}

// CancelAll seeds each collection from the marketplace and withdraws every
// outstanding offer. It backs the cancel run mode.
func (e *Engine) CancelAll(ctx context.Context) error {
	var errs []error
	for _, o := range e.Orchestrators() {
		if !o.state.Seeded() {
			if err := o.Seed(ctx); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		n := o.state.Len()
		if err := o.CancelAll(ctx, "cancel mode"); err != nil {
			errs = append(errs, err)
		}
		e.logger.InfoContext(ctx, "collection cancelled",
			slog.String("collection", o.Symbol()),
			slog.Int("offers", n),
			slog.Int("remaining", o.state.Len()),
		)
	}
	return errors.Join(errs...)
}

// StreamGaveUp alerts the operator that real-time events stopped. Rescans
// keep running.
func (e *Engine) StreamGaveUp(ctx context.Context, err error) {
	e.logger.ErrorContext(ctx, "event stream gave up, continuing on rescans only",
		slog.String("error", err.Error()),
	)
	e.rec.record(ctx, eventStreamGone, "", "", map[string]any{"error": err.Error()})
	e.rec.alert(ctx, eventStreamGone, "Event stream down",
		fmt.Sprintf("stream stopped reconnecting: %v; bids are maintained by rescans only", err))
}
