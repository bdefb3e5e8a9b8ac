// Package trade ingests normalized trades and serves bounded recent-trade
// history with rolling window metrics.
//
// Each (venue, symbol) keeps a ring of at most maxRecent trades. Rolling
// metrics are computed over the ring by time window, so the retention sweep
// only needs to drop trades older than the largest window.
package trade

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"perpagg/internal/bus"
	"perpagg/internal/cache"
	"perpagg/internal/metrics"
	"perpagg/pkg/types"
)

// Windows are the rolling metric horizons the engine serves.
var Windows = []types.Timeframe{
	types.TF1m, types.TF5m, types.TF15m, types.TF1h, types.TF4h, types.TF1d,
}

const sweepInterval = 5 * time.Minute

type key struct {
	venue  types.Venue
	symbol string
}

// Engine owns the per-(venue, symbol) trade rings.
type Engine struct {
	mu    sync.RWMutex
	rings map[key][]types.Trade // oldest → newest

	bus       *bus.Bus
	cache     cache.Cache
	tradesTTL time.Duration
	maxRecent int
	retention time.Duration

	logger *slog.Logger
}

// New creates the engine. maxRecent bounds each ring; retention trades older
// than the horizon are swept periodically.
func New(b *bus.Bus, c cache.Cache, tradesTTL time.Duration, maxRecent, retentionMultiplier int, logger *slog.Logger) *Engine {
	if maxRecent <= 0 {
		maxRecent = 1000
	}
	if retentionMultiplier <= 0 {
		retentionMultiplier = 2
	}
	return &Engine{
		rings:     make(map[key][]types.Trade),
		bus:       b,
		cache:     c,
		tradesTTL: tradesTTL,
		maxRecent: maxRecent,
		retention: time.Duration(retentionMultiplier) * types.TF1d.Duration(),
		logger:    logger.With("component", "trade_engine"),
	}
}

// Ingest appends a batch of trades, publishes each on the bus, and writes
// the refreshed ring through to the cache.
func (e *Engine) Ingest(ctx context.Context, batch []types.Trade) {
	if len(batch) == 0 {
		return
	}

	touched := make(map[key]bool, 1)
	e.mu.Lock()
	for _, t := range batch {
		k := key{t.Venue, t.Symbol}
		ring := append(e.rings[k], t)
		if len(ring) > e.maxRecent {
			ring = ring[len(ring)-e.maxRecent:]
		}
		e.rings[k] = ring
		touched[k] = true
	}
	e.mu.Unlock()

	for _, t := range batch {
		e.bus.Publish(bus.TradesChannel(string(t.Venue), t.Symbol), t)
	}

	for k := range touched {
		recent := e.Recent(k.venue, k.symbol, e.maxRecent)
		if err := e.cache.Set(ctx, cache.RecentTradesKey(string(k.venue), k.symbol), recent, e.tradesTTL); err != nil {
			metrics.CacheErrors.WithLabelValues("trade").Inc()
			e.logger.Warn("recent trades cache write failed", "error", err)
		}
	}
}

// Recent returns up to limit trades, newest first.
func (e *Engine) Recent(venue types.Venue, symbol string, limit int) []types.Trade {
	e.mu.RLock()
	ring := e.rings[key{venue, symbol}]
	n := len(ring)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]types.Trade, 0, n)
	for i := len(ring) - 1; i >= len(ring)-n; i-- {
		out = append(out, ring[i])
	}
	e.mu.RUnlock()
	return out
}

// Filter narrows a trade query. Zero fields are unconstrained.
type Filter struct {
	Side     types.Side
	MinSize  float64
	MaxSize  float64
	MinPrice float64
	MaxPrice float64
	From     time.Time
	To       time.Time
	Limit    int
}

// Query returns matching trades, newest first.
func (e *Engine) Query(venue types.Venue, symbol string, f Filter) []types.Trade {
	e.mu.RLock()
	ring := e.rings[key{venue, symbol}]
	out := make([]types.Trade, 0, 64)
	for i := len(ring) - 1; i >= 0; i-- {
		t := ring[i]
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.Side != "" && t.Side != f.Side {
			continue
		}
		size := t.SizeFloat()
		if f.MinSize > 0 && size < f.MinSize {
			continue
		}
		if f.MaxSize > 0 && size > f.MaxSize {
			continue
		}
		price := t.PriceFloat()
		if f.MinPrice > 0 && price < f.MinPrice {
			continue
		}
		if f.MaxPrice > 0 && price > f.MaxPrice {
			continue
		}
		if !f.From.IsZero() && t.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && t.Timestamp.After(f.To) {
			continue
		}
		out = append(out, t)
	}
	e.mu.RUnlock()
	return out
}

// WindowMetrics summarizes trading activity over one rolling window.
type WindowMetrics struct {
	Window             types.Timeframe `json:"window"`
	LastPrice          float64         `json:"last_price"`
	PriceChange        float64         `json:"price_change"`
	PriceChangePercent float64         `json:"price_change_percent"`
	Volume             float64         `json:"volume"`
	QuoteVolume        float64         `json:"quote_volume"`
	High               float64         `json:"high"`
	Low                float64         `json:"low"`
	Count              int             `json:"count"`
}

// Metrics computes the rolling metrics for one window ending now.
func (e *Engine) Metrics(venue types.Venue, symbol string, window types.Timeframe) WindowMetrics {
	cutoff := time.Now().Add(-window.Duration())
	m := WindowMetrics{Window: window, Low: math.Inf(1), High: math.Inf(-1)}

	var first, last float64

	e.mu.RLock()
	ring := e.rings[key{venue, symbol}]
	for _, t := range ring {
		if t.Timestamp.Before(cutoff) {
			continue
		}
		price := t.PriceFloat()
		size := t.SizeFloat()

		if m.Count == 0 {
			first = price
		}
		last = price
		m.Count++
		m.Volume += size
		m.QuoteVolume += price * size
		if price > m.High {
			m.High = price
		}
		if price < m.Low {
			m.Low = price
		}
	}
	e.mu.RUnlock()

	if m.Count == 0 {
		m.Low, m.High = 0, 0
		return m
	}

	m.LastPrice = last
	m.PriceChange = last - first
	if first > 0 {
		m.PriceChangePercent = m.PriceChange / first * 100
	}
	return m
}

// AllMetrics computes every supported window for one (venue, symbol).
func (e *Engine) AllMetrics(venue types.Venue, symbol string) map[types.Timeframe]WindowMetrics {
	out := make(map[types.Timeframe]WindowMetrics, len(Windows))
	for _, w := range Windows {
		out[w] = e.Metrics(venue, symbol, w)
	}
	return out
}

// Run sweeps trades older than the retention horizon. Blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep drops expired trades. Rings are oldest-first, so eviction is a
// single index scan from the front, mirroring how stale entries age out.
func (e *Engine) sweep() {
	cutoff := time.Now().Add(-e.retention)

	e.mu.Lock()
	for k, ring := range e.rings {
		idx := -1
		for i, t := range ring {
			if t.Timestamp.After(cutoff) {
				idx = i
				break
			}
		}
		switch {
		case idx == -1:
			delete(e.rings, k)
		case idx > 0:
			e.rings[k] = ring[idx:]
		}
	}
	e.mu.Unlock()
}
