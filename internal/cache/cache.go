// Package cache provides the hot key/value surface engines write through and
// consumers read. Two backends exist: Redis (production) and an in-process
// memory cache (tests, single-node runs without Redis).
//
// In-memory engine state remains authoritative; a failed cache write is
// logged and the next update retries naturally.
package cache

import (
	"context"
	"time"
)

// Cache is the store surface used by the engines. Values are JSON-encoded.
type Cache interface {
	// Set stores value under key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Get unmarshals the value at key into dest. Returns false when absent.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// AddSorted inserts value into the ordered set at key with the given
	// score (candle bucket timestamp), trimming to maxLen entries and
	// refreshing the TTL.
	AddSorted(ctx context.Context, key string, score int64, value interface{}, maxLen int, ttl time.Duration) error
	// LatestSorted returns up to limit raw JSON members with the highest
	// scores, ascending by score.
	LatestSorted(ctx context.Context, key string, limit int) ([][]byte, error)
	// Delete removes a key.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key builders for the streams of the cache surface. Keeping these in one
// place makes the schema greppable.

func OrderbookKey(venue, symbol string) string {
	return "orderbook:" + venue + ":" + symbol
}

func SnapshotKey(venue, symbol string) string {
	return "orderbook_snapshot:" + venue + ":" + symbol
}

func RecentTradesKey(venue, symbol string) string {
	return "recent_trades:" + venue + ":" + symbol
}

func CandlesKey(venue, symbol, timeframe string) string {
	return "candles:" + venue + ":" + symbol + ":" + timeframe
}

func AggBookKey(symbol string) string {
	return "agg.book." + symbol
}

func AggRoutingKey(symbol string) string {
	return "agg.routing." + symbol
}
