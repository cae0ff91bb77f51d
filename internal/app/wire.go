package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/blob/s3"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/cache/redis"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/config"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/crypto"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/engine"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/gateway"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/notify"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/evm"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/magiceden"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/server/handler"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/store/postgres"
)

// Dependencies bundles every dependency the run modes need. It is
// constructed by Wire and torn down by the returned cleanup function. The
// optional infrastructure fields stay nil when their section is disabled.
type Dependencies struct {
	// Optional infrastructure
	AuditStore  domain.AuditStore
	Publisher   domain.EventPublisher
	LockManager domain.LockManager
	BlobWriter  domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// Marketplace access: one throttled client per (chain, wallet), all
	// drawing on one rate limiter.
	Limiter  domain.RateLimiter
	Markets  map[string]*gateway.Throttled
	Bindings []engine.Binding

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Markets: make(map[string]*gateway.Throttled),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL audit trail ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
	}

	// --- Redis: wallet leases, shared limiter, bid events ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Publisher = redis.NewPublisher(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 snapshot sink ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client, cfg.S3.Prefix)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Rate limiter ---
	deps.Limiter = newLimiter(cfg.RateLimit, redisClient)

	// --- Signers, marketplace clients and collection bindings ---
	for _, col := range cfg.Collections {
		policy := col.Policy()
		wallet, ok := cfg.Wallet(col.Wallet)
		if !ok {
			return fail(fmt.Errorf("wire: collection %s: unknown wallet %q", policy.Symbol, col.Wallet))
		}
		key := marketKey(policy.Chain, wallet.Name)
		market, ok := deps.Markets[key]
		if !ok {
			client, err := newMarketplace(cfg, policy.Chain, wallet.Name)
			if err != nil {
				return fail(fmt.Errorf("wire: collection %s: %w", policy.Symbol, err))
			}
			market = gateway.NewThrottled(client, deps.Limiter, cfg.RateLimit.MaxInFlight)
			deps.Markets[key] = market
		}
		deps.Bindings = append(deps.Bindings, engine.Binding{
			Policy: policy,
			Wallet: wallet,
			Market: market,
		})
	}

	return deps, cleanup, nil
}

// newLimiter returns the Redis sliding window when the limit is shared
// between instances, the in-process token bucket otherwise. The window is
// sized so that burst calls fit in it at the configured rate.
func newLimiter(cfg config.RateLimitConfig, rc *redis.Client) domain.RateLimiter {
	if cfg.Shared && rc != nil {
		window := time.Duration(float64(cfg.Burst) / cfg.PerSecond * float64(time.Second))
		return redis.NewRateLimiter(rc, "marketplace", cfg.Burst, window)
	}
	return gateway.NewTokenBucket(cfg.Burst, cfg.PerSecond)
}

// newMarketplace builds the chain adapter for one wallet together with the
// signer that holds or reaches its key.
func newMarketplace(cfg *config.Config, chain domain.Chain, walletName string) (domain.Marketplace, error) {
	w := cfg.Wallets[walletName]
	mp := cfg.Marketplace

	if !chain.IsEVM() {
		signer, err := crypto.NewRemotePSBTSigner(crypto.RemoteConfig{
			URL:     w.SignerURL,
			Address: w.PaymentAddress,
			Token:   w.SignerToken,
			Timeout: mp.Timeout.Duration,
		})
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", walletName, err)
		}
		return magiceden.NewClient(magiceden.ClientConfig{
			BaseURL:     mp.MagicEden.BaseURL,
			APIKey:      mp.MagicEden.APIKey,
			Timeout:     mp.Timeout.Duration,
			MaxRetries:  mp.MaxRetries,
			FeerateTier: mp.MagicEden.FeerateTier,
			Signer:      signer,
		}), nil
	}

	signer, err := crypto.LoadEVMSigner(crypto.KeySource{
		RawKey:   w.PrivateKey,
		KeyFile:  w.KeyFile,
		Password: w.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", walletName, err)
	}
	if !strings.EqualFold(signer.Address(), w.PaymentAddress) {
		return nil, fmt.Errorf("wallet %s: key belongs to %s, not payment_address %s",
			walletName, signer.Address(), w.PaymentAddress)
	}
	return evm.NewClient(evm.ClientConfig{
		BaseURL:    mp.EVM.BaseURL,
		Chain:      chain,
		APIKey:     mp.EVM.APIKey,
		Timeout:    mp.Timeout.Duration,
		MaxRetries: mp.MaxRetries,
		OrderKind:  mp.EVM.OrderKind,
		Orderbook:  mp.EVM.Orderbook,
		Currency:   mp.EVM.Currency,
		Source:     mp.EVM.Source,
		Signer:     signer,
	})
}

func marketKey(chain domain.Chain, wallet string) string {
	return string(chain) + "/" + wallet
}

