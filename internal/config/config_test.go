package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

const sampleTOML = `
mode = "bid"
log_level = "debug"

[wallets.main]
payment_address = "bc1qpayment"
receive_address = "bc1preceive"
public_key = "02abcdef"
signer_url = "http://127.0.0.1:7070"

[wallets.eth]
payment_address = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
private_key = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

[rate_limit]
per_second = 2.5
burst = 5

[[collections]]
symbol = "nodemonkes"
wallet = "main"
min_bid = 0.001
max_bid = "0.0105"
min_floor_pct = 50
max_floor_pct = 90
outbid_margin = "0.00000001"
bid_count = 10
duration = "15m"
quantity_cap = 2

[[collections]]
symbol = "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d"
chain = "ethereum"
offer_type = "COLLECTION"
wallet = "eth"
min_bid = 1
max_bid = 2.5
outbid_margin = 0.01
rescan_interval = "2m"
enable_counter_bidding = true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSample(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.RateLimit.PerSecond != 2.5 || cfg.RateLimit.MaxInFlight != 8 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}

	p := cfg.Collections[0].Policy()
	if p.Chain != domain.ChainBitcoin || p.OfferType != domain.OfferTypeItem {
		t.Errorf("defaults not applied: chain %q offer type %q", p.Chain, p.OfferType)
	}
	if !p.MaxBid.Equal(decimal.RequireFromString("0.0105")) || !p.MinBid.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("bids = [%s, %s]", p.MinBid, p.MaxBid)
	}
	if !p.OutBidMargin.Equal(decimal.RequireFromString("0.00000001")) {
		t.Errorf("outbid margin = %s", p.OutBidMargin)
	}
	if p.Duration != 15*time.Minute || p.RescanInterval != defaultRescanInterval || p.QuantityCap != 2 {
		t.Errorf("policy = %+v", p)
	}

	evm := cfg.Collections[1].Policy()
	if evm.Chain != domain.ChainEthereum || evm.OfferType != domain.OfferTypeCollection {
		t.Errorf("evm policy = %+v", evm)
	}
	if evm.BidCount != defaultBidCount || evm.Duration != defaultBidDuration || evm.RescanInterval != 2*time.Minute {
		t.Errorf("evm defaults = %+v", evm)
	}
	if !evm.MinBid.Equal(decimal.NewFromInt(1)) || !evm.EnableCounterBidding {
		t.Errorf("evm policy = %+v", evm)
	}

	w, ok := cfg.Wallet("main")
	if !ok || w.Name != "main" || w.PublicKey != "02abcdef" {
		t.Errorf("Wallet(main) = %+v, %v", w, ok)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BIDBOT_WALLET_ETH_PRIVATE_KEY", "deadbeef")
	t.Setenv("BIDBOT_MODE", "cancel")
	t.Setenv("BIDBOT_RATE_LIMIT_BURST", "9")
	t.Setenv("BIDBOT_NOTIFY_EVENTS", "fill, anomaly ,")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Wallets["eth"].PrivateKey; got != "deadbeef" {
		t.Errorf("private key = %q", got)
	}
	if cfg.Mode != "cancel" || cfg.RateLimit.Burst != 9 {
		t.Errorf("mode %q burst %d", cfg.Mode, cfg.RateLimit.Burst)
	}
	if strings.Join(cfg.Notify.Events, ",") != "fill,anomaly" {
		t.Errorf("events = %v", cfg.Notify.Events)
	}
}

func TestLoadSingleWalletDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[wallets.only]
payment_address = "bc1q"
receive_address = "bc1p"
public_key = "02"
signer_url = "http://signer"

[[collections]]
symbol = "runestone"
max_bid = 0.01
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Collections[0].Wallet != "only" {
		t.Fatalf("wallet = %q, want only", cfg.Collections[0].Wallet)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsBadAmount(t *testing.T) {
	_, err := Load(writeConfig(t, `
[[collections]]
symbol = "x"
max_bid = "lots"
`))
	if err == nil {
		t.Fatal("bad amount accepted")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load(writeConfig(t, sampleTOML))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return *cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"no collections", func(c *Config) { c.Collections = nil }, "at least one"},
		{"bitcoin collection offer", func(c *Config) { c.Collections[0].OfferType = "COLLECTION" }, "not supported on bitcoin"},
		{"min above max", func(c *Config) { c.Collections[0].MinBid = amount{decimal.NewFromInt(1)} }, "exceeds max_bid"},
		{"floor pct range", func(c *Config) { c.Collections[0].MaxFloorPct = amount{decimal.NewFromInt(150)} }, "max_floor_pct must be within 0-100"},
		{"unknown wallet", func(c *Config) { c.Collections[0].Wallet = "cold" }, `wallet "cold" is not defined`},
		{"duplicate symbol", func(c *Config) { c.Collections[1].Symbol = c.Collections[0].Symbol }, "duplicate symbol"},
		{"evm address", func(c *Config) {
			w := c.Wallets["eth"]
			w.PaymentAddress = "bc1qnotevm"
			c.Wallets["eth"] = w
		}, "not an EVM address"},
		{"evm key", func(c *Config) {
			w := c.Wallets["eth"]
			w.PrivateKey = ""
			c.Wallets["eth"] = w
		}, "private_key or key_file is required"},
		{"bitcoin signer", func(c *Config) {
			w := c.Wallets["main"]
			w.SignerURL = ""
			c.Wallets["main"] = w
		}, "signer_url is required"},
		{"shared limiter without redis", func(c *Config) { c.RateLimit.Shared = true }, "shared requires redis.enabled"},
		{"telegram pair", func(c *Config) { c.Notify.TelegramToken = "t" }, "must be set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Server.APIKey = "s3cret"

	red := RedactedConfig(cfg)
	if red.Wallets["eth"].PrivateKey != redacted || red.Server.APIKey != redacted {
		t.Errorf("secrets not redacted: %+v %q", red.Wallets["eth"], red.Server.APIKey)
	}
	if red.Wallets["main"].PrivateKey != "" {
		t.Error("empty secret replaced by placeholder")
	}
	if cfg.Wallets["eth"].PrivateKey == redacted || cfg.Server.APIKey != "s3cret" {
		t.Error("redaction leaked into original")
	}
}
