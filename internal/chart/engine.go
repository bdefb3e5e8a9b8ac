// Package chart folds tick data into OHLCV candles across seven timeframes.
//
// Every tick, real trade or synthetic book midpoint, touches one builder
// per timeframe, keyed by (venue, symbol, timeframe). A tick landing in a
// later bucket completes the old builder and starts a new one. Synthetic
// midpoint ticks (size "0") move prices only: they never increment volume
// or trade count. Completed candles flow to the hot cache and into the
// cold-store batcher.
package chart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpagg/internal/bus"
	"perpagg/internal/cache"
	"perpagg/internal/metrics"
	"perpagg/pkg/types"
)

// cacheDepth bounds the per-key candle history kept in the hot cache.
const cacheDepth = 1000

type key struct {
	venue  types.Venue
	symbol string
	tf     types.Timeframe
}

// builder accumulates one in-flight candle.
type builder struct {
	venue  types.Venue
	symbol string
	tf     types.Timeframe
	bucket int64 // bucket start, Unix ms

	open, high, low, close float64
	volume, quoteVolume    float64
	tradeCount             int64
}

// newBuilder initializes a builder from its first tick.
func newBuilder(k key, bucket int64, price, size float64) *builder {
	b := &builder{
		venue:  k.venue,
		symbol: k.symbol,
		tf:     k.tf,
		bucket: bucket,
		open:   price,
		high:   price,
		low:    price,
		close:  price,
	}
	if size > 0 {
		b.volume = size
		b.quoteVolume = price * size
		b.tradeCount = 1
	}
	return b
}

// fold absorbs a tick into an existing builder.
func (b *builder) fold(price, size float64) {
	if price > b.high {
		b.high = price
	}
	if price < b.low {
		b.low = price
	}
	b.close = price
	if size > 0 {
		b.volume += size
		b.quoteVolume += price * size
		b.tradeCount++
	}
}

// vwap is quoteVolume/volume while any volume exists, else the open.
func (b *builder) vwap() float64 {
	if b.volume > 0 {
		return b.quoteVolume / b.volume
	}
	return b.open
}

// candle renders the builder as the emitted string form.
func (b *builder) candle() types.Candle {
	change := b.close - b.open
	pct := 0.0
	if b.open != 0 {
		pct = change / b.open * 100
	}
	return types.Candle{
		Symbol:             b.symbol,
		Venue:              b.venue,
		Timeframe:          b.tf,
		Timestamp:          b.bucket,
		Open:               formatFloat(b.open),
		High:               formatFloat(b.high),
		Low:                formatFloat(b.low),
		Close:              formatFloat(b.close),
		Volume:             formatFloat(b.volume),
		QuoteVolume:        formatFloat(b.quoteVolume),
		TradeCount:         b.tradeCount,
		VWAP:               formatFloat(b.vwap()),
		PriceChange:        formatFloat(change),
		PriceChangePercent: formatFloat(pct),
	}
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// Engine is the candle processor.
type Engine struct {
	mu       sync.Mutex
	builders map[key]*builder

	bus        *bus.Bus
	cache      cache.Cache
	candleTTL  time.Duration
	batcher    *Batcher
	timeframes []types.Timeframe

	// onCompleted callbacks receive every completed candle. Registered once
	// at wiring time, before any tick flows.
	onCompleted []func(types.Candle)

	logger *slog.Logger
}

// New creates the engine. batcher may be nil when cold storage is disabled
// at the call site, but wiring normally passes one backed by a NopStore
// instead.
func New(b *bus.Bus, c cache.Cache, candleTTL time.Duration, batcher *Batcher, logger *slog.Logger) *Engine {
	return &Engine{
		builders:   make(map[key]*builder),
		bus:        b,
		cache:      c,
		candleTTL:  candleTTL,
		batcher:    batcher,
		timeframes: types.AllTimeframes(),
		logger:     logger.With("component", "chart_engine"),
	}
}

// OnCompleted registers a callback invoked with every completed candle.
// Must be called before the engine starts receiving ticks.
func (e *Engine) OnCompleted(fn func(types.Candle)) {
	e.onCompleted = append(e.onCompleted, fn)
}

// ProcessTickData folds one tick into every timeframe's builder.
func (e *Engine) ProcessTickData(ctx context.Context, tick types.TickData) {
	price := tick.PriceFloat()
	if price <= 0 {
		metrics.StateErrors.WithLabelValues("chart").Inc()
		return
	}
	size := 0.0
	if !tick.IsSynthetic() {
		size = tick.SizeFloat()
	}
	tsMillis := tick.Timestamp.UnixMilli()

	var completed, updated []types.Candle

	e.mu.Lock()
	for _, tf := range e.timeframes {
		k := key{tick.Venue, tick.Symbol, tf}
		bucket := tf.BucketStart(tsMillis)

		b, ok := e.builders[k]
		if ok && b.bucket != bucket {
			completed = append(completed, b.candle())
			ok = false
		}
		if !ok {
			b = newBuilder(k, bucket, price, size)
			e.builders[k] = b
		} else {
			b.fold(price, size)
		}
		updated = append(updated, b.candle())
	}
	e.mu.Unlock()

	// Emission happens strictly after the builders absorbed the tick, and
	// without the engine lock held.
	for _, c := range completed {
		e.emitCompleted(ctx, c)
	}
	for _, c := range updated {
		e.emitUpdated(ctx, c)
	}
}

// ForceCompleteAllCandles flushes every in-flight builder, used on shutdown.
func (e *Engine) ForceCompleteAllCandles(ctx context.Context) {
	e.mu.Lock()
	completed := make([]types.Candle, 0, len(e.builders))
	for k, b := range e.builders {
		completed = append(completed, b.candle())
		delete(e.builders, k)
	}
	e.mu.Unlock()

	for _, c := range completed {
		e.emitCompleted(ctx, c)
	}
}

func (e *Engine) emitUpdated(ctx context.Context, c types.Candle) {
	e.writeCache(ctx, c)
	e.bus.Publish(bus.CandlesChannel(string(c.Venue), c.Symbol, string(c.Timeframe)),
		types.CandleEvent{Type: types.CandleUpdate, Candle: c})
}

func (e *Engine) emitCompleted(ctx context.Context, c types.Candle) {
	metrics.CandlesCompleted.WithLabelValues(string(c.Venue), string(c.Timeframe)).Inc()
	e.writeCache(ctx, c)
	e.bus.Publish(bus.CandlesChannel(string(c.Venue), c.Symbol, string(c.Timeframe)),
		types.CandleEvent{Type: types.CandleNew, Candle: c})
	if e.batcher != nil {
		e.batcher.Enqueue(c)
	}
	for _, fn := range e.onCompleted {
		fn(c)
	}
}

func (e *Engine) writeCache(ctx context.Context, c types.Candle) {
	k := cache.CandlesKey(string(c.Venue), c.Symbol, string(c.Timeframe))
	if err := e.cache.AddSorted(ctx, k, c.Timestamp, c, cacheDepth, e.candleTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("chart").Inc()
		e.logger.Warn("candle cache write failed", "error", err)
	}
}
