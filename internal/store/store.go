// Package store provides optional durable cold storage for completed
// candles. The pipeline is a soft-real-time cache, not a system of record:
// the cold store is a read-through for history, and losing writes degrades
// history, never live state.
//
// Two implementations exist: Postgres (sqlx) and Nop (the default when no
// DSN is configured, preserving cache-only operation).
package store

import (
	"context"
	"time"

	"perpagg/pkg/types"
)

// ColdStore is the durable surface the chart engine batches completed
// candles into and consumers read history from.
type ColdStore interface {
	// InsertCandles writes a batch. The write must be idempotent per
	// (venue, symbol, timeframe, bucket timestamp).
	InsertCandles(ctx context.Context, candles []types.Candle) error
	// Candles returns up to limit candles for the key ordered by bucket
	// timestamp ascending, bounded by [from, to] when non-zero.
	Candles(ctx context.Context, venue types.Venue, symbol string, tf types.Timeframe, from, to time.Time, limit int) ([]types.Candle, error)
	Close() error
}

// Nop discards writes and returns no history.
type Nop struct{}

func (Nop) InsertCandles(context.Context, []types.Candle) error { return nil }

func (Nop) Candles(context.Context, types.Venue, string, types.Timeframe, time.Time, time.Time, int) ([]types.Candle, error) {
	return nil, nil
}

func (Nop) Close() error { return nil }
