// Package config defines the top-level configuration for the bidding bot
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BIDBOT_* environment variables.
type Config struct {
	Wallets     map[string]WalletConfig `toml:"wallets"`
	Marketplace MarketplaceConfig       `toml:"marketplace"`
	Engine      EngineConfig            `toml:"engine"`
	RateLimit   RateLimitConfig         `toml:"rate_limit"`
	Stream      StreamConfig            `toml:"stream"`
	Postgres    PostgresConfig          `toml:"postgres"`
	Redis       RedisConfig             `toml:"redis"`
	S3          S3Config                `toml:"s3"`
	Snapshot    SnapshotConfig          `toml:"snapshot"`
	Server      ServerConfig            `toml:"server"`
	Notify      NotifyConfig            `toml:"notify"`
	Collections []CollectionConfig      `toml:"collections"`
	Mode        string                  `toml:"mode"`
	LogLevel    string                  `toml:"log_level"`
}

// WalletConfig holds the addresses and key material of one funding wallet.
// Bitcoin wallets sign through a remote daemon; EVM wallets hold a local key,
// raw or in an encrypted key file.
type WalletConfig struct {
	PaymentAddress string `toml:"payment_address"`
	ReceiveAddress string `toml:"receive_address"`
	PublicKey      string `toml:"public_key"`
	PrivateKey     string `toml:"private_key"`
	KeyFile        string `toml:"key_file"`
	KeyPassword    string `toml:"key_password"`
	SignerURL      string `toml:"signer_url"`
	SignerToken    string `toml:"signer_token"`
}

// MarketplaceConfig holds the marketplace API endpoints.
type MarketplaceConfig struct {
	MagicEden  OrdinalsConfig `toml:"magiceden"`
	EVM        EVMConfig      `toml:"evm"`
	Timeout    duration       `toml:"timeout"`
	MaxRetries int            `toml:"max_retries"`
}

// OrdinalsConfig configures the ordinals (bitcoin) marketplace adapter.
type OrdinalsConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	FeerateTier string `toml:"feerate_tier"`
}

// EVMConfig configures the EVM marketplace adapter, shared by every EVM chain.
type EVMConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	OrderKind string `toml:"order_kind"`
	Orderbook string `toml:"orderbook"`
	// Currency is the bid token contract; empty uses the wrapped native token.
	Currency string `toml:"currency"`
	Source   string `toml:"source"`
}

// EngineConfig tunes the reconciliation engine.
type EngineConfig struct {
	LockTimeout      duration `toml:"lock_timeout"`
	VerifyAttempts   int      `toml:"verify_attempts"`
	VerifyBackoff    duration `toml:"verify_backoff"`
	AssetConcurrency int      `toml:"asset_concurrency"`
	InboxSize        int      `toml:"inbox_size"`
	DedupTTL         duration `toml:"dedup_ttl"`
	FillDedupTTL     duration `toml:"fill_dedup_ttl"`
	// WalletLeaseTTL is the lifetime of the Redis wallet lease. The lease is
	// extended at a third of it.
	WalletLeaseTTL duration `toml:"wallet_lease_ttl"`
}

// RateLimitConfig bounds outbound marketplace traffic.
type RateLimitConfig struct {
	PerSecond   float64 `toml:"per_second"`
	Burst       int     `toml:"burst"`
	MaxInFlight int64   `toml:"max_in_flight"`
	// Shared moves the limit into Redis so every instance sharing an API key
	// shares the budget.
	Shared bool `toml:"shared"`
}

// StreamConfig holds the activity websocket parameters.
type StreamConfig struct {
	Enabled           bool     `toml:"enabled"`
	URL               string   `toml:"url"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	MaxRetries        int      `toml:"max_retries"`
}

// PostgresConfig holds the audit database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SnapshotConfig says where the shutdown ledger snapshot is written.
type SnapshotConfig struct {
	Path string `toml:"path"`
}

// ServerConfig holds status API parameters.
type ServerConfig struct {
	Enabled           bool    `toml:"enabled"`
	Port              int     `toml:"port"`
	APIKey            string  `toml:"api_key"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// CollectionConfig is one [[collections]] entry.
type CollectionConfig struct {
	Symbol               string   `toml:"symbol"`
	Chain                string   `toml:"chain"`
	OfferType            string   `toml:"offer_type"`
	MinBid               amount   `toml:"min_bid"`
	MaxBid               amount   `toml:"max_bid"`
	MinFloorPct          amount   `toml:"min_floor_pct"`
	MaxFloorPct          amount   `toml:"max_floor_pct"`
	OutBidMargin         amount   `toml:"outbid_margin"`
	BidCount             int      `toml:"bid_count"`
	Duration             duration `toml:"duration"`
	QuantityCap          int      `toml:"quantity_cap"`
	EnableCounterBidding bool     `toml:"enable_counter_bidding"`
	RescanInterval       duration `toml:"rescan_interval"`
	Wallet               string   `toml:"wallet"`
	ReceiveAddress       string   `toml:"receive_address"`
}

// Policy converts the entry into the engine's immutable policy.
func (c CollectionConfig) Policy() domain.CollectionPolicy {
	return domain.CollectionPolicy{
		Symbol:               c.Symbol,
		Chain:                domain.Chain(strings.ToLower(c.Chain)),
		OfferType:            domain.OfferType(strings.ToUpper(c.OfferType)),
		MinBid:               c.MinBid.Decimal,
		MaxBid:               c.MaxBid.Decimal,
		MinFloorPct:          c.MinFloorPct.Decimal,
		MaxFloorPct:          c.MaxFloorPct.Decimal,
		OutBidMargin:         c.OutBidMargin.Decimal,
		BidCount:             c.BidCount,
		Duration:             c.Duration.Duration,
		QuantityCap:          c.QuantityCap,
		EnableCounterBidding: c.EnableCounterBidding,
		RescanInterval:       c.RescanInterval.Duration,
		FundingWallet:        c.Wallet,
		ReceiveAddress:       c.ReceiveAddress,
	}
}

// Wallet returns the named wallet's addresses.
func (c *Config) Wallet(name string) (domain.Wallet, bool) {
	w, ok := c.Wallets[name]
	if !ok {
		return domain.Wallet{}, false
	}
	return domain.Wallet{
		Name:           name,
		PaymentAddress: w.PaymentAddress,
		ReceiveAddress: w.ReceiveAddress,
		PublicKey:      w.PublicKey,
	}, true
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Wallets: map[string]WalletConfig{},
		Marketplace: MarketplaceConfig{
			MagicEden: OrdinalsConfig{
				BaseURL:     "https://api-mainnet.magiceden.dev",
				FeerateTier: "halfHourFee",
			},
			EVM: EVMConfig{
				BaseURL:   "https://api-mainnet.magiceden.dev/v3/rtp",
				OrderKind: "seaport-v1.6",
				Orderbook: "reservoir",
			},
			Timeout:    duration{15 * time.Second},
			MaxRetries: 3,
		},
		Engine: EngineConfig{
			LockTimeout:      duration{2 * time.Minute},
			VerifyAttempts:   3,
			VerifyBackoff:    duration{500 * time.Millisecond},
			AssetConcurrency: 4,
			InboxSize:        256,
			DedupTTL:         duration{2 * time.Minute},
			FillDedupTTL:     duration{30 * time.Minute},
			WalletLeaseTTL:   duration{30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			PerSecond:   4,
			Burst:       4,
			MaxInFlight: 8,
		},
		Stream: StreamConfig{
			Enabled:           true,
			URL:               "wss://wss-mainnet.magiceden.io/CJMw7IPrGPUb13adEQYW2ASbR29eGc1q",
			HeartbeatInterval: duration{10 * time.Second},
			MaxRetries:        10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bidbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "bidbot:",
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "snapshots",
			UseSSL: true,
		},
		Snapshot: SnapshotConfig{
			Path: "data/ledger-snapshot.json",
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Notify: NotifyConfig{
			Events: []string{"anomaly", "stream_gave_up", "quantity_cap_reached", "fill"},
		},
		Mode:     "bid",
		LogLevel: "info",
	}
}

// Collection defaults filled in by applyCollectionDefaults.
const (
	defaultBidCount       = 20
	defaultBidDuration    = 30 * time.Minute
	defaultRescanInterval = 60 * time.Second
	defaultQuantityCap    = 1
)

// applyCollectionDefaults fills unset per-collection fields. A collection
// without a wallet reference uses the only wallet when exactly one exists.
func applyCollectionDefaults(cfg *Config) {
	var only string
	if len(cfg.Wallets) == 1 {
		for name := range cfg.Wallets {
			only = name
		}
	}
	for i := range cfg.Collections {
		c := &cfg.Collections[i]
		if c.Chain == "" {
			c.Chain = string(domain.ChainBitcoin)
		}
		if c.OfferType == "" {
			c.OfferType = string(domain.OfferTypeItem)
		}
		if c.BidCount == 0 {
			c.BidCount = defaultBidCount
		}
		if c.Duration.Duration == 0 {
			c.Duration.Duration = defaultBidDuration
		}
		if c.RescanInterval.Duration == 0 {
			c.RescanInterval.Duration = defaultRescanInterval
		}
		if c.QuantityCap == 0 {
			c.QuantityCap = defaultQuantityCap
		}
		if c.Wallet == "" {
			c.Wallet = only
		}
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"bid":    true,
	"cancel": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validChains enumerates the accepted values for CollectionConfig.Chain.
var validChains = map[domain.Chain]bool{
	domain.ChainBitcoin:  true,
	domain.ChainEthereum: true,
	domain.ChainBase:     true,
	domain.ChainPolygon:  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: bid, cancel)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Collections and the wallets they reference.
	if len(c.Collections) == 0 {
		errs = append(errs, "collections: at least one [[collections]] entry is required")
	}
	seen := make(map[string]bool, len(c.Collections))
	for i, col := range c.Collections {
		name := col.Symbol
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if seen[col.Symbol] {
			errs = append(errs, fmt.Sprintf("collections: duplicate symbol %q", col.Symbol))
		}
		seen[col.Symbol] = true
		for _, msg := range c.validateCollection(col) {
			errs = append(errs, fmt.Sprintf("collections[%s]: %s", name, msg))
		}
	}

	// Engine
	if c.Engine.VerifyAttempts < 1 {
		errs = append(errs, "engine: verify_attempts must be >= 1")
	}
	if c.Engine.AssetConcurrency < 1 {
		errs = append(errs, "engine: asset_concurrency must be >= 1")
	}
	if c.Engine.InboxSize < 1 {
		errs = append(errs, "engine: inbox_size must be >= 1")
	}

	// Rate limit
	if c.RateLimit.PerSecond <= 0 {
		errs = append(errs, "rate_limit: per_second must be > 0")
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, "rate_limit: burst must be >= 1")
	}
	if c.RateLimit.MaxInFlight < 1 {
		errs = append(errs, "rate_limit: max_in_flight must be >= 1")
	}
	if c.RateLimit.Shared && !c.Redis.Enabled {
		errs = append(errs, "rate_limit: shared requires redis.enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequestsPerSecond < 0 {
			errs = append(errs, "server: requests_per_second must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateCollection(col CollectionConfig) []string {
	var errs []string
	p := col.Policy()

	if col.Symbol == "" {
		errs = append(errs, "symbol must not be empty")
	}
	if !validChains[p.Chain] {
		errs = append(errs, fmt.Sprintf("unknown chain %q (valid: %s)", col.Chain, chainNames()))
	}
	switch p.OfferType {
	case domain.OfferTypeItem:
	case domain.OfferTypeCollection:
		if p.Chain == domain.ChainBitcoin {
			errs = append(errs, "offer_type COLLECTION is not supported on bitcoin")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown offer_type %q (valid: ITEM, COLLECTION)", col.OfferType))
	}

	if !p.MaxBid.IsPositive() {
		errs = append(errs, "max_bid must be > 0")
	}
	if p.MinBid.IsNegative() {
		errs = append(errs, "min_bid must be >= 0")
	}
	if p.MinBid.GreaterThan(p.MaxBid) {
		errs = append(errs, fmt.Sprintf("min_bid %s exceeds max_bid %s", p.MinBid, p.MaxBid))
	}
	for _, pct := range []struct {
		name string
		v    amount
	}{{"min_floor_pct", col.MinFloorPct}, {"max_floor_pct", col.MaxFloorPct}} {
		if pct.v.IsNegative() || pct.v.GreaterThan(hundred) {
			errs = append(errs, fmt.Sprintf("%s must be within 0-100, got %s", pct.name, pct.v))
		}
	}
	if p.MaxFloorPct.IsPositive() && p.MinFloorPct.GreaterThan(p.MaxFloorPct) {
		errs = append(errs, "min_floor_pct exceeds max_floor_pct")
	}
	if p.OutBidMargin.IsNegative() {
		errs = append(errs, "outbid_margin must be >= 0")
	}
	if p.OfferType == domain.OfferTypeItem && p.BidCount < 1 {
		errs = append(errs, "bid_count must be >= 1")
	}
	if p.QuantityCap < 1 {
		errs = append(errs, "quantity_cap must be >= 1")
	}
	if p.Duration <= 0 {
		errs = append(errs, "duration must be > 0")
	}
	if p.RescanInterval <= 0 {
		errs = append(errs, "rescan_interval must be > 0")
	}

	w, ok := c.Wallets[col.Wallet]
	if !ok {
		if col.Wallet == "" {
			errs = append(errs, "wallet must name a [wallets.<name>] entry")
		} else {
			errs = append(errs, fmt.Sprintf("wallet %q is not defined", col.Wallet))
		}
		return errs
	}
	if w.PaymentAddress == "" {
		errs = append(errs, fmt.Sprintf("wallet %q: payment_address must not be empty", col.Wallet))
	}
	if p.Chain.IsEVM() {
		if w.PaymentAddress != "" && !common.IsHexAddress(w.PaymentAddress) {
			errs = append(errs, fmt.Sprintf("wallet %q: payment_address is not an EVM address", col.Wallet))
		}
		if col.ReceiveAddress != "" && !common.IsHexAddress(col.ReceiveAddress) {
			errs = append(errs, "receive_address is not an EVM address")
		}
		if w.PrivateKey == "" && w.KeyFile == "" {
			errs = append(errs, fmt.Sprintf("wallet %q: private_key or key_file is required for chain %s", col.Wallet, p.Chain))
		}
		if w.KeyFile != "" && w.KeyPassword == "" {
			errs = append(errs, fmt.Sprintf("wallet %q: key_password is required when key_file is set", col.Wallet))
		}
	} else {
		if w.PublicKey == "" {
			errs = append(errs, fmt.Sprintf("wallet %q: public_key is required for bitcoin", col.Wallet))
		}
		if w.SignerURL == "" {
			errs = append(errs, fmt.Sprintf("wallet %q: signer_url is required for bitcoin", col.Wallet))
		}
		if col.ReceiveAddress == "" && w.ReceiveAddress == "" {
			errs = append(errs, "receive_address must be set on the collection or its wallet")
		}
	}
	return errs
}

func chainNames() string {
	names := make([]string, 0, len(validChains))
	for ch := range validChains {
		names = append(names, string(ch))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
