package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
symbols: [BTC, ETH]
venues:
  hyperliquid:
    enabled: true
    ws_url: wss://api.hyperliquid.xyz/ws
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Feed.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat = %v, want 30s", cfg.Feed.HeartbeatInterval)
	}
	if cfg.Feed.ReconnectInitial != 5*time.Second || cfg.Feed.ReconnectMax != 60*time.Second {
		t.Errorf("reconnect = %v/%v", cfg.Feed.ReconnectInitial, cfg.Feed.ReconnectMax)
	}
	if cfg.Feed.MaxReconnectAttempts != 0 {
		t.Errorf("max attempts = %d, want unlimited", cfg.Feed.MaxReconnectAttempts)
	}
	if cfg.Aggregation.Throttle != 50*time.Millisecond || cfg.Aggregation.MaxLevels != 50 {
		t.Errorf("aggregation = %+v", cfg.Aggregation)
	}
	if cfg.Candles.BatchSize != 100 || cfg.Candles.BatchInterval != 10*time.Second {
		t.Errorf("candles = %+v", cfg.Candles)
	}
	if cfg.Trades.MaxRecent != 1000 || cfg.Trades.RetentionMultiplier != 2 {
		t.Errorf("trades = %+v", cfg.Trades)
	}
	if cfg.Cache.TTL.Orderbook != 30*time.Second ||
		cfg.Cache.TTL.Trades != 300*time.Second ||
		cfg.Cache.TTL.Candles != time.Hour ||
		cfg.Cache.TTL.AggBook != 60*time.Second ||
		cfg.Cache.TTL.AggRouting != time.Second {
		t.Errorf("ttls = %+v", cfg.Cache.TTL)
	}
}

func TestValidateRejectsEmptySymbols(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
symbols: []
venues:
  aster:
    enabled: true
    ws_url: wss://example.com
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("empty symbols should fail validation")
	}
}

func TestValidateRejectsNoVenues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `symbols: [BTC]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("no enabled venue should fail validation")
	}
}

func TestValidateRejectsEnabledVenueWithoutURL(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
symbols: [BTC]
venues:
  lighter:
    enabled: true
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("enabled venue without ws_url should fail validation")
	}
}

func TestEnvSecretOverrides(t *testing.T) {
	t.Setenv("MDAGG_POSTGRES_DSN", "postgres://u:p@localhost/mdagg")
	t.Setenv("MDAGG_REDIS_PASSWORD", "hunter2")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.PostgresDSN != "postgres://u:p@localhost/mdagg" {
		t.Errorf("dsn = %q", cfg.Store.PostgresDSN)
	}
	if cfg.Cache.RedisPassword != "hunter2" {
		t.Errorf("redis password not taken from env")
	}
}

func TestVenueFor(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	vc, ok := cfg.VenueFor("hyperliquid")
	if !ok || !vc.Enabled {
		t.Errorf("hyperliquid = %+v, ok=%v", vc, ok)
	}
	if _, ok := cfg.VenueFor("binance"); ok {
		t.Error("unknown venue should not resolve")
	}
}
