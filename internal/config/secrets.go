package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallets: the map is rebuilt so the original keeps its secrets.
	out.Wallets = make(map[string]WalletConfig, len(cfg.Wallets))
	for name, w := range cfg.Wallets {
		redact(&w.PrivateKey)
		redact(&w.KeyPassword)
		redact(&w.SignerToken)
		out.Wallets[name] = w
	}

	// Marketplace
	redact(&out.Marketplace.MagicEden.APIKey)
	redact(&out.Marketplace.EVM.APIKey)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Collections != nil {
		out.Collections = make([]CollectionConfig, len(cfg.Collections))
		copy(out.Collections, cfg.Collections)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
