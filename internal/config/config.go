// Package config defines all configuration for the market-data aggregator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via MDAGG_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Symbols     []string          `mapstructure:"symbols"`
	Venues      VenuesConfig      `mapstructure:"venues"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Candles     CandlesConfig     `mapstructure:"candles"`
	Trades      TradesConfig      `mapstructure:"trades"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Store       StoreConfig       `mapstructure:"store"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// VenueConfig holds one venue's endpoints and enablement.
type VenueConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	WSURL   string `mapstructure:"ws_url"`
	RestURL string `mapstructure:"rest_url"` // instrument metadata endpoint
}

// VenuesConfig groups the four supported venues.
type VenuesConfig struct {
	Hyperliquid VenueConfig `mapstructure:"hyperliquid"`
	Aster       VenueConfig `mapstructure:"aster"`
	Lighter     VenueConfig `mapstructure:"lighter"`
	Avantis     VenueConfig `mapstructure:"avantis"`
}

// FeedConfig tunes the WebSocket feed core shared by all adapters.
//
//   - HeartbeatInterval: how often a venue-appropriate ping is sent.
//     A socket is declared dead after 2× this interval without pong or data.
//   - ReconnectInitial / ReconnectMax: exponential backoff bounds.
//   - MaxReconnectAttempts: 0 = unlimited.
//   - MetadataRefresh: how often venue instrument metadata is re-fetched.
type FeedConfig struct {
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectInitial     time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax         time.Duration `mapstructure:"reconnect_max"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	MetadataRefresh      time.Duration `mapstructure:"metadata_refresh"`
}

// AggregationConfig tunes the cross-venue merge and its publication rate.
type AggregationConfig struct {
	Throttle  time.Duration `mapstructure:"throttle"`   // per-symbol min publish interval
	MaxLevels int           `mapstructure:"max_levels"` // aggregated levels per side
}

// CandlesConfig tunes the cold-store batch writer.
type CandlesConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
}

// TradesConfig bounds the recent-trade rings.
//
// RetentionMultiplier scales the 1d rolling window to the retention horizon:
// trades older than 1d × multiplier are swept.
type TradesConfig struct {
	MaxRecent           int `mapstructure:"max_recent"`
	RetentionMultiplier int `mapstructure:"retention_multiplier"`
}

// CacheTTLConfig sets per-stream TTLs for the hot cache surface.
type CacheTTLConfig struct {
	Orderbook  time.Duration `mapstructure:"orderbook"`
	Snapshot   time.Duration `mapstructure:"snapshot"`
	Trades     time.Duration `mapstructure:"trades"`
	Candles    time.Duration `mapstructure:"candles"`
	AggBook    time.Duration `mapstructure:"agg_book"`
	AggRouting time.Duration `mapstructure:"agg_routing"`
}

// CacheConfig selects and configures the hot cache backend.
// When RedisAddr is empty the in-memory backend is used.
type CacheConfig struct {
	RedisAddr     string         `mapstructure:"redis_addr"`
	RedisPassword string         `mapstructure:"redis_password"`
	RedisDB       int            `mapstructure:"redis_db"`
	TTL           CacheTTLConfig `mapstructure:"ttl"`
}

// StoreConfig configures the optional cold store for completed candles.
// An empty DSN disables cold storage (cache-only operation).
type StoreConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// GatewayConfig controls the downstream WebSocket fan-out server.
type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides (MDAGG_ prefix,
// dots replaced by underscores: MDAGG_CACHE_REDIS_ADDR overrides cache.redis_addr).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MDAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dsn := os.Getenv("MDAGG_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}
	if pass := os.Getenv("MDAGG_REDIS_PASSWORD"); pass != "" {
		cfg.Cache.RedisPassword = pass
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.heartbeat_interval", 30*time.Second)
	v.SetDefault("feed.reconnect_initial", 5*time.Second)
	v.SetDefault("feed.reconnect_max", 60*time.Second)
	v.SetDefault("feed.max_reconnect_attempts", 0)
	v.SetDefault("feed.metadata_refresh", 10*time.Minute)

	v.SetDefault("aggregation.throttle", 50*time.Millisecond)
	v.SetDefault("aggregation.max_levels", 50)

	v.SetDefault("candles.batch_size", 100)
	v.SetDefault("candles.batch_interval", 10*time.Second)

	v.SetDefault("trades.max_recent", 1000)
	v.SetDefault("trades.retention_multiplier", 2)

	v.SetDefault("cache.ttl.orderbook", 30*time.Second)
	v.SetDefault("cache.ttl.snapshot", 30*time.Second)
	v.SetDefault("cache.ttl.trades", 300*time.Second)
	v.SetDefault("cache.ttl.candles", time.Hour)
	v.SetDefault("cache.ttl.agg_book", 60*time.Second)
	v.SetDefault("cache.ttl.agg_routing", time.Second)

	v.SetDefault("gateway.listen", ":8081")
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols is required (at least one symbol to track)")
	}
	enabled := 0
	for _, vc := range []struct {
		name string
		cfg  VenueConfig
	}{
		{"hyperliquid", c.Venues.Hyperliquid},
		{"aster", c.Venues.Aster},
		{"lighter", c.Venues.Lighter},
		{"avantis", c.Venues.Avantis},
	} {
		if !vc.cfg.Enabled {
			continue
		}
		enabled++
		if vc.cfg.WSURL == "" {
			return fmt.Errorf("venues.%s.ws_url is required when enabled", vc.name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one venue must be enabled")
	}
	if c.Feed.HeartbeatInterval <= 0 {
		return fmt.Errorf("feed.heartbeat_interval must be > 0")
	}
	if c.Feed.ReconnectInitial <= 0 || c.Feed.ReconnectMax < c.Feed.ReconnectInitial {
		return fmt.Errorf("feed.reconnect bounds invalid: initial=%v max=%v",
			c.Feed.ReconnectInitial, c.Feed.ReconnectMax)
	}
	if c.Aggregation.Throttle < 0 {
		return fmt.Errorf("aggregation.throttle must be >= 0")
	}
	if c.Aggregation.MaxLevels <= 0 {
		return fmt.Errorf("aggregation.max_levels must be > 0")
	}
	if c.Candles.BatchSize <= 0 {
		return fmt.Errorf("candles.batch_size must be > 0")
	}
	if c.Trades.MaxRecent <= 0 {
		return fmt.Errorf("trades.max_recent must be > 0")
	}
	return nil
}

// VenueFor returns the venue config for a venue name, false when unknown.
func (c *Config) VenueFor(name string) (VenueConfig, bool) {
	switch name {
	case "hyperliquid":
		return c.Venues.Hyperliquid, true
	case "aster":
		return c.Venues.Aster, true
	case "lighter":
		return c.Venues.Lighter, true
	case "avantis":
		return c.Venues.Avantis, true
	default:
		return VenueConfig{}, false
	}
}
