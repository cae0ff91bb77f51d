package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// IdleWaiter is the event path's quiescence gate. *ingest.Ingestor
// satisfies it.
type IdleWaiter interface {
	WaitIdle(ctx context.Context) error
}

const defaultRescanInterval = time.Minute

// Scheduler runs the periodic full rescan of every collection.
type Scheduler struct {
	engine      *Engine
	idle        IdleWaiter
	concurrency int
	logger      *slog.Logger
}

// NewScheduler creates a scheduler over the engine's collections. idle may
// be nil when no event stream runs.
func NewScheduler(e *Engine, idle IdleWaiter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:      e,
		idle:        idle,
		concurrency: e.opts.AssetConcurrency,
		logger:      logger.With(slog.String("component", "scheduler")),
	}
}

// Run starts one rescan loop per collection and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, o := range s.engine.Orchestrators() {
		o := o
		g.Go(func() error { return s.loop(ctx, o) })
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, o *Orchestrator) error {
	interval := o.policy.RescanInterval
	if interval <= 0 {
		interval = defaultRescanInterval
	}
	s.logger.InfoContext(ctx, "rescan loop started",
		slog.String("collection", o.Symbol()),
		slog.Duration("interval", interval),
	)

	s.runPass(ctx, o)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runPass(ctx, o)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, o *Orchestrator) {
	passID := uuid.NewString()
	start := time.Now()
	if err := s.Pass(ctx, o); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.WarnContext(ctx, "rescan pass aborted",
			slog.String("collection", o.Symbol()),
			slog.String("pass_id", passID),
			slog.String("error", err.Error()),
		)
		o.rec.record(ctx, eventPassAborted, o.Symbol(), "", map[string]any{
			"pass_id": passID,
			"error":   err.Error(),
		})
		return
	}
	s.logger.InfoContext(ctx, "rescan pass complete",
		slog.String("collection", o.Symbol()),
		slog.String("pass_id", passID),
		slog.Int("bids", o.state.Len()),
		slog.Duration("took", time.Since(start)),
	)
}

// Pass runs one full rescan of the collection. An error aborts this pass
// only; per-asset failures are logged and never returned.
func (s *Scheduler) Pass(ctx context.Context, o *Orchestrator) error {
	if s.idle != nil {
		if err := s.idle.WaitIdle(ctx); err != nil {
			return err
		}
	}

	if !o.state.Seeded() {
		if err := o.Seed(ctx); err != nil {
			return err
		}
	}

	floor, err := o.market.FloorPrice(ctx, o.Symbol())
	if err != nil {
		return fmt.Errorf("engine: floor price %s: %w", o.Symbol(), err)
	}
	o.state.SetFloor(floor)

	var listings []domain.BottomListing
	if o.policy.OfferType == domain.OfferTypeItem {
		listings, err = o.market.BottomListings(ctx, o.Symbol(), o.policy.BidCount)
		if err != nil {
			return fmt.Errorf("engine: bottom listings %s: %w", o.Symbol(), err)
		}
	}

	for _, e := range o.state.PruneExpired(o.now()) {
		o.rec.record(ctx, eventExpired, o.Symbol(), e.TokenID, map[string]any{
			"order_id": e.OrderID,
			"price":    e.Price.String(),
		})
	}

	if o.policy.OfferType == domain.OfferTypeCollection {
		s.reconcileCollection(ctx, o)
	} else {
		s.cancelStale(ctx, o, listings)
		s.reconcileItems(ctx, o, listings)
		o.state.SetBottomListings(listings)
	}

	o.state.CompleteFirstPass(o.now())
	return nil
}

// cancelStale withdraws bids on tokens that left the bottom listings.
// Seeded bids are spared until the first pass completed.
func (s *Scheduler) cancelStale(ctx context.Context, o *Orchestrator, listings []domain.BottomListing) {
	inBook := make(map[string]bool, len(listings))
	for _, l := range listings {
		inBook[l.TokenID] = true
	}
	firstPass := !o.state.FirstPassDone()

	for _, e := range o.state.Entries() {
		if inBook[e.TokenID] || (firstPass && e.Seeded) {
			continue
		}
		if err := o.Cancel(ctx, e.TokenID, "left bottom listings"); err != nil {
			s.logger.WarnContext(ctx, "stale bid cancel failed",
				slog.String("collection", o.Symbol()),
				slog.String("token_id", e.TokenID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Scheduler) reconcileItems(ctx context.Context, o *Orchestrator, listings []domain.BottomListing) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, l := range listings {
		l := l
		g.Go(func() error {
			dec, err := o.reconcile(ctx, o.target(l.TokenID), l.ListedPrice)
			if err != nil {
				s.logger.WarnContext(ctx, "reconcile failed",
					slog.String("collection", o.Symbol()),
					slog.String("token_id", l.TokenID),
					slog.String("action", string(dec.Action)),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) reconcileCollection(ctx context.Context, o *Orchestrator) {
	dec, err := o.reconcile(ctx, o.target(""), decimal.Zero)
	if err != nil {
		s.logger.WarnContext(ctx, "collection offer reconcile failed",
			slog.String("collection", o.Symbol()),
			slog.String("action", string(dec.Action)),
			slog.String("error", err.Error()),
		)
	}
}
