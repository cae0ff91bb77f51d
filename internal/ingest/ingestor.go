// Package ingest turns the marketplace activity feed into a serialized
// stream of normalized events for the engine.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Config tunes the ingestor.
type Config struct {
	// InboxSize bounds the number of queued events. When full, Ingest blocks
	// the producer instead of dropping.
	InboxSize int
	// DedupTTL drops redelivered offer activity seen within this window.
	DedupTTL time.Duration
	// FillDedupTTL is the window for fills. Zero means DedupTTL.
	FillDedupTTL time.Duration
	// Wallets are our own addresses; activity they initiated is ignored.
	Wallets []domain.Wallet
}

// Ingestor owns the bounded inbox and its single consumer. Event N+1 is only
// handed to the handler after event N's handler returned.
type Ingestor struct {
	handler domain.EventHandler
	wallets []domain.Wallet
	dedup   *Dedup
	inbox   chan domain.MarketEvent
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

// New creates an Ingestor that feeds handler.
func New(handler domain.EventHandler, cfg Config, logger *slog.Logger) *Ingestor {
	if cfg.InboxSize < 1 {
		cfg.InboxSize = 256
	}
	idle := make(chan struct{})
	close(idle)
	return &Ingestor{
		handler: handler,
		wallets: cfg.Wallets,
		dedup:   NewDedup(cfg.DedupTTL, cfg.FillDedupTTL),
		inbox:   make(chan domain.MarketEvent, cfg.InboxSize),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "ingestor")),
		idle:    idle,
	}
}

// Ingest normalizes one raw frame and queues it. Frames of unknown kind,
// our own activity and duplicates are dropped without error.
func (in *Ingestor) Ingest(ctx context.Context, raw []byte) error {
	ev, ok := Normalize(raw)
	if !ok {
		return nil
	}
	return in.Submit(ctx, ev)
}

// Submit queues an already normalized event. Events without a timestamp
// are stamped with their receive time.
func (in *Ingestor) Submit(ctx context.Context, ev domain.MarketEvent) error {
	if in.ours(ev.Counterparty) {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = in.now().UTC()
	}
	if in.dedup.Seen(ev) {
		in.logger.DebugContext(ctx, "duplicate event dropped",
			slog.String("kind", string(ev.Kind)),
			slog.String("collection", ev.Collection),
			slog.String("token_id", ev.TokenID),
		)
		return nil
	}

	in.begin()
	select {
	case in.inbox <- ev:
		return nil
	case <-ctx.Done():
		in.finish()
		return fmt.Errorf("ingest: enqueue %s: %w", ev.Kind, ctx.Err())
	}
}

// Run consumes the inbox until ctx is cancelled. Handler errors are logged
// and never stop the loop.
func (in *Ingestor) Run(ctx context.Context) error {
	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	in.logger.InfoContext(ctx, "ingestor started", slog.Int("inbox", cap(in.inbox)))
	defer in.logger.Info("ingestor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			in.dedup.Cleanup()
		case ev := <-in.inbox:
			in.handle(ctx, ev)
		}
	}
}

func (in *Ingestor) handle(ctx context.Context, ev domain.MarketEvent) {
	defer in.finish()
	if err := in.handler.HandleEvent(ctx, ev); err != nil {
		in.logger.WarnContext(ctx, "event handling failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("collection", ev.Collection),
			slog.String("token_id", ev.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

// WaitIdle blocks until no event is queued or being handled.
func (in *Ingestor) WaitIdle(ctx context.Context) error {
	in.mu.Lock()
	idle := in.idle
	in.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest: wait idle: %w", ctx.Err())
	}
}

// Pending returns the number of events queued or in processing.
func (in *Ingestor) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pending
}

func (in *Ingestor) begin() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pending == 0 {
		in.idle = make(chan struct{})
	}
	in.pending++
}

func (in *Ingestor) finish() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending--
	if in.pending == 0 {
		close(in.idle)
	}
}

func (in *Ingestor) ours(addr string) bool {
	for _, w := range in.wallets {
		if w.Owns(addr) {
			return true
		}
	}
	return false
}
