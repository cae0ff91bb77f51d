package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/backoff"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/engine"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/gateway"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/ingest"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/magiceden"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/server"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/server/handler"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/snapshot"
)

// snapshotTimeout bounds the shutdown snapshot, which runs after the run
// context is already cancelled.
const snapshotTimeout = 15 * time.Second

// BidMode runs the reconciliation engine: the event ingestor and its stream,
// the per-collection rescan loops and the status API. On shutdown it writes
// a ledger snapshot.
func (a *App) BidMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bid mode", slog.Int("collections", len(deps.Bindings)))

	g, ctx := errgroup.WithContext(ctx)

	if err := a.holdWalletLeases(ctx, g, deps); err != nil {
		return err
	}

	eng, err := a.newEngine(deps)
	if err != nil {
		return err
	}
	defer a.writeSnapshot(eng, deps)

	// Event path: stream frames -> ingestor inbox -> engine, one at a time.
	ingestor := ingest.New(eng, ingest.Config{
		InboxSize:    a.cfg.Engine.InboxSize,
		DedupTTL:     a.cfg.Engine.DedupTTL.Duration,
		FillDedupTTL: a.cfg.Engine.FillDedupTTL.Duration,
		Wallets:      wallets(deps.Bindings),
	}, a.logger)
	g.Go(func() error {
		return ingestor.Run(ctx)
	})

	if symbols := streamSymbols(deps.Bindings); a.cfg.Stream.Enabled && len(symbols) > 0 {
		stream := magiceden.NewStream(magiceden.StreamConfig{
			URL:               a.cfg.Stream.URL,
			Collections:       symbols,
			HeartbeatInterval: a.cfg.Stream.HeartbeatInterval.Duration,
			MaxRetries:        a.cfg.Stream.MaxRetries,
		}, ingestor.Ingest, a.logger)
		g.Go(func() error {
			err := stream.Run(ctx)
			if errors.Is(err, domain.ErrStreamGaveUp) {
				eng.StreamGaveUp(ctx, err)
				return nil
			}
			return err
		})
	}

	// Rescan path.
	scheduler := engine.NewScheduler(eng, ingestor, a.logger)
	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		srv := a.newServer(eng, ingestor, deps)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	return g.Wait()
}

// CancelMode withdraws every outstanding offer of the configured
// collections and returns.
func (a *App) CancelMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting cancel mode", slog.Int("collections", len(deps.Bindings)))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	if err := a.holdWalletLeases(gctx, g, deps); err != nil {
		return err
	}

	eng, err := a.newEngine(deps)
	if err != nil {
		return err
	}

	err = eng.CancelAll(gctx)
	// Release the leases only after the last cancellation went out.
	stop()
	if leaseErr := g.Wait(); leaseErr != nil && err == nil {
		err = leaseErr
	}
	a.writeSnapshot(eng, deps)
	return err
}

func (a *App) newEngine(deps *Dependencies) (*engine.Engine, error) {
	opts := engine.Options{
		LockTimeout:      a.cfg.Engine.LockTimeout.Duration,
		VerifyAttempts:   a.cfg.Engine.VerifyAttempts,
		AssetConcurrency: a.cfg.Engine.AssetConcurrency,
		Audit:            deps.AuditStore,
		Publisher:        deps.Publisher,
		Alerter:          deps.Notifier,
	}
	if d := a.cfg.Engine.VerifyBackoff.Duration; d > 0 {
		opts.VerifyBackoff = backoff.Policy{Initial: d, Max: 20 * d, Factor: 2}
	}
	eng, err := engine.New(deps.Bindings, opts, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}
	return eng, nil
}

// holdWalletLeases takes one Redis lease per funding wallet so that two
// instances never bid from the same wallet, and keeps them alive on g. A lost
// lease stops the run. Without Redis this is a no-op.
func (a *App) holdWalletLeases(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.LockManager == nil {
		return nil
	}
	ttl := a.cfg.Engine.WalletLeaseTTL.Duration

	seen := make(map[string]bool)
	for _, b := range deps.Bindings {
		addr := b.Wallet.PaymentAddress
		if seen[addr] {
			continue
		}
		seen[addr] = true

		lease, err := deps.LockManager.Acquire(ctx, "wallet:"+addr, ttl)
		if err != nil {
			return fmt.Errorf("app: wallet %s: %w", b.Wallet.Name, err)
		}
		a.logger.InfoContext(ctx, "wallet lease acquired",
			slog.String("wallet", b.Wallet.Name),
			slog.Duration("ttl", ttl),
		)

		name := b.Wallet.Name
		g.Go(func() error {
			defer lease.Release()
			ticker := time.NewTicker(max(ttl/3, time.Second))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := lease.Extend(ctx, ttl); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return fmt.Errorf("app: wallet %s lease lost: %w", name, err)
					}
				}
			}
		})
	}
	return nil
}

func (a *App) newServer(eng *engine.Engine, ingestor *ingest.Ingestor, deps *Dependencies) *server.Server {
	queues := make(map[string]func() gateway.Stats, len(deps.Markets))
	for key, m := range deps.Markets {
		queues[key] = m.Stats
	}

	cfg := server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey}
	if rps := a.cfg.Server.RequestsPerSecond; rps > 0 {
		cfg.Limiter = gateway.NewTokenBucket(max(a.cfg.Server.Burst, 1), rps)
	}

	return server.NewServer(cfg, server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks),
		Status:      handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), ingestor.Pending, queues),
		Collections: handler.NewCollectionHandler(eng, deps.AuditStore, a.logger),
	}, a.logger)
}

// writeSnapshot persists the ledger on a fresh context, since the run
// context is usually cancelled by then.
func (a *App) writeSnapshot(eng *engine.Engine, deps *Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	w := snapshot.NewWriter(a.cfg.Snapshot.Path, deps.BlobWriter, a.logger)
	if err := w.Write(ctx, eng.Snapshot()); err != nil {
		a.logger.ErrorContext(ctx, "snapshot failed", slog.String("error", err.Error()))
	}
}

// wallets returns the distinct funding wallets of the bindings.
func wallets(bindings []engine.Binding) []domain.Wallet {
	seen := make(map[string]bool)
	var out []domain.Wallet
	for _, b := range bindings {
		if !seen[b.Wallet.Name] {
			seen[b.Wallet.Name] = true
			out = append(out, b.Wallet)
		}
	}
	return out
}

// streamSymbols lists the collections the activity stream covers. Only the
// ordinals marketplace has one; EVM collections rely on rescans.
func streamSymbols(bindings []engine.Binding) []string {
	var out []string
	for _, b := range bindings {
		if b.Policy.Chain == domain.ChainBitcoin {
			out = append(out, b.Policy.Symbol)
		}
	}
	return out
}
