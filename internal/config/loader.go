package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BIDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	applyCollectionDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BIDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallets ──
	// Secrets of wallet "main" come from BIDBOT_WALLET_MAIN_*. Only wallets
	// declared in the file are considered.
	for name, w := range cfg.Wallets {
		prefix := "BIDBOT_WALLET_" + envName(name) + "_"
		setStr(&w.PaymentAddress, prefix+"PAYMENT_ADDRESS")
		setStr(&w.ReceiveAddress, prefix+"RECEIVE_ADDRESS")
		setStr(&w.PublicKey, prefix+"PUBLIC_KEY")
		setStr(&w.PrivateKey, prefix+"PRIVATE_KEY")
		setStr(&w.KeyFile, prefix+"KEY_FILE")
		setStr(&w.KeyPassword, prefix+"KEY_PASSWORD")
		setStr(&w.SignerURL, prefix+"SIGNER_URL")
		setStr(&w.SignerToken, prefix+"SIGNER_TOKEN")
		cfg.Wallets[name] = w
	}

	// ── Marketplace ──
	setStr(&cfg.Marketplace.MagicEden.BaseURL, "BIDBOT_MAGICEDEN_BASE_URL")
	setStr(&cfg.Marketplace.MagicEden.APIKey, "BIDBOT_MAGICEDEN_API_KEY")
	setStr(&cfg.Marketplace.MagicEden.FeerateTier, "BIDBOT_MAGICEDEN_FEERATE_TIER")
	setStr(&cfg.Marketplace.EVM.BaseURL, "BIDBOT_EVM_BASE_URL")
	setStr(&cfg.Marketplace.EVM.APIKey, "BIDBOT_EVM_API_KEY")
	setStr(&cfg.Marketplace.EVM.Currency, "BIDBOT_EVM_CURRENCY")
	setDuration(&cfg.Marketplace.Timeout, "BIDBOT_MARKETPLACE_TIMEOUT")
	setInt(&cfg.Marketplace.MaxRetries, "BIDBOT_MARKETPLACE_MAX_RETRIES")

	// ── Engine ──
	setDuration(&cfg.Engine.LockTimeout, "BIDBOT_ENGINE_LOCK_TIMEOUT")
	setInt(&cfg.Engine.VerifyAttempts, "BIDBOT_ENGINE_VERIFY_ATTEMPTS")
	setInt(&cfg.Engine.AssetConcurrency, "BIDBOT_ENGINE_ASSET_CONCURRENCY")
	setInt(&cfg.Engine.InboxSize, "BIDBOT_ENGINE_INBOX_SIZE")
	setDuration(&cfg.Engine.DedupTTL, "BIDBOT_ENGINE_DEDUP_TTL")
	setDuration(&cfg.Engine.FillDedupTTL, "BIDBOT_ENGINE_FILL_DEDUP_TTL")

	// ── Rate limit ──
	setFloat64(&cfg.RateLimit.PerSecond, "BIDBOT_RATE_LIMIT_PER_SECOND")
	setInt(&cfg.RateLimit.Burst, "BIDBOT_RATE_LIMIT_BURST")
	setInt64(&cfg.RateLimit.MaxInFlight, "BIDBOT_RATE_LIMIT_MAX_IN_FLIGHT")
	setBool(&cfg.RateLimit.Shared, "BIDBOT_RATE_LIMIT_SHARED")

	// ── Stream ──
	setBool(&cfg.Stream.Enabled, "BIDBOT_STREAM_ENABLED")
	setStr(&cfg.Stream.URL, "BIDBOT_STREAM_URL")
	setInt(&cfg.Stream.MaxRetries, "BIDBOT_STREAM_MAX_RETRIES")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BIDBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BIDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BIDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BIDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BIDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BIDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BIDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BIDBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BIDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BIDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BIDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BIDBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BIDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BIDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BIDBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BIDBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BIDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BIDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BIDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BIDBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "BIDBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "BIDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BIDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BIDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BIDBOT_S3_FORCE_PATH_STYLE")

	// ── Snapshot ──
	setStr(&cfg.Snapshot.Path, "BIDBOT_SNAPSHOT_PATH")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BIDBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BIDBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BIDBOT_SERVER_API_KEY")
	setFloat64(&cfg.Server.RequestsPerSecond, "BIDBOT_SERVER_REQUESTS_PER_SECOND")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BIDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BIDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BIDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BIDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BIDBOT_MODE")
	setStr(&cfg.LogLevel, "BIDBOT_LOG_LEVEL")
}

// envName turns a wallet name into an environment variable segment:
// "hot-1" becomes "HOT_1".
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
