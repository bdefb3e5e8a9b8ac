// Package book maintains the authoritative per-(venue, symbol) order books.
//
// The engine consumes normalized Snapshot and Delta events, owns the level
// maps exclusively (single writer per key), and emits an Orderbook
// projection on every change: sorted sides, totals, spread, and mid price.
// Downstream consumers receive projections by value, through the publish
// bus (top-20 excerpt) and through registered update callbacks (full
// projection), so no reader ever observes a partially updated map.
package book

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"perpagg/internal/bus"
	"perpagg/internal/cache"
	"perpagg/internal/metrics"
	"perpagg/pkg/types"
)

// MaxDepth bounds the emitted projection per side.
const MaxDepth = 1000

// PublishDepth bounds the per-venue book excerpt published on the bus.
const PublishDepth = 20

// resnapshotInterval bounds cache staleness for quiet books.
const resnapshotInterval = 30 * time.Second

type key struct {
	venue  types.Venue
	symbol string
}

// level is one resting price level. Price and size stay strings until an
// arithmetic site needs them.
type level struct {
	size string
	ts   time.Time
}

// state is the live book for one (venue, symbol).
type state struct {
	bids       map[string]level // price → level
	asks       map[string]level
	lastUpdate time.Time
	sequence   uint64
}

// Engine is the order book state engine.
type Engine struct {
	mu    sync.RWMutex
	books map[key]*state

	bus         *bus.Bus
	cache       cache.Cache
	bookTTL     time.Duration
	snapshotTTL time.Duration

	// onUpdate callbacks receive the full projection after every change.
	// Registered once at wiring time, before any event flows.
	onUpdate []func(types.Orderbook)

	logger *slog.Logger
}

// New creates the engine. bookTTL and snapshotTTL bound the cache entries.
func New(b *bus.Bus, c cache.Cache, bookTTL, snapshotTTL time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		books:       make(map[key]*state),
		bus:         b,
		cache:       c,
		bookTTL:     bookTTL,
		snapshotTTL: snapshotTTL,
		logger:      logger.With("component", "orderbook_engine"),
	}
}

// OnUpdate registers a callback invoked with every emitted projection.
// Must be called before the engine starts receiving events.
func (e *Engine) OnUpdate(fn func(types.Orderbook)) {
	e.onUpdate = append(e.onUpdate, fn)
}

// ProcessSnapshot replaces the book for (venue, symbol) wholesale.
func (e *Engine) ProcessSnapshot(ctx context.Context, snap types.Snapshot) {
	k := key{snap.Venue, snap.Symbol}

	st := &state{
		bids:       make(map[string]level, len(snap.Bids)),
		asks:       make(map[string]level, len(snap.Asks)),
		lastUpdate: snap.Timestamp,
		sequence:   snap.Sequence,
	}
	for _, l := range snap.Bids {
		if !validLevel(l) {
			metrics.StateErrors.WithLabelValues("book").Inc()
			continue
		}
		if l.SizeFloat() == 0 {
			continue
		}
		st.bids[l.Price] = level{size: l.Size, ts: snap.Timestamp}
	}
	for _, l := range snap.Asks {
		if !validLevel(l) {
			metrics.StateErrors.WithLabelValues("book").Inc()
			continue
		}
		if l.SizeFloat() == 0 {
			continue
		}
		st.asks[l.Price] = level{size: l.Size, ts: snap.Timestamp}
	}

	e.mu.Lock()
	e.books[k] = st
	ob := e.projectLocked(k, st)
	e.mu.Unlock()

	metrics.BookUpdates.WithLabelValues(string(snap.Venue), "snapshot").Inc()

	if err := e.cache.Set(ctx, cache.SnapshotKey(string(snap.Venue), snap.Symbol), snap, e.snapshotTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("book").Inc()
		e.logger.Warn("snapshot cache write failed", "error", err)
	}

	e.emit(ctx, ob)
}

// ProcessUpdate applies a delta. Deltas for unknown (venue, symbol) are
// dropped with a warning; state is never created from a delta alone.
func (e *Engine) ProcessUpdate(ctx context.Context, d types.Delta) {
	k := key{d.Venue, d.Symbol}

	e.mu.Lock()
	st, ok := e.books[k]
	if !ok {
		e.mu.Unlock()
		metrics.StateErrors.WithLabelValues("book").Inc()
		e.logger.Warn("delta for unknown book dropped", "venue", d.Venue, "symbol", d.Symbol)
		return
	}

	ts := d.Timestamp
	for _, l := range d.Bids {
		applyLevel(st.bids, st.asks, l, ts)
	}
	for _, l := range d.Asks {
		applyLevel(st.asks, st.bids, l, ts)
	}
	st.lastUpdate = ts
	if d.Sequence != 0 {
		st.sequence = d.Sequence
	}

	ob := e.projectLocked(k, st)
	e.mu.Unlock()

	metrics.BookUpdates.WithLabelValues(string(d.Venue), "delta").Inc()
	e.emit(ctx, ob)
}

// applyLevel upserts or removes one level. A resting price can live on only
// one side, so an upsert clears the same price from the opposite side.
func applyLevel(side, opposite map[string]level, l types.PriceLevel, ts time.Time) {
	if !validLevel(l) {
		metrics.StateErrors.WithLabelValues("book").Inc()
		return
	}
	if l.SizeFloat() == 0 {
		delete(side, l.Price)
		return
	}
	delete(opposite, l.Price)
	side[l.Price] = level{size: l.Size, ts: ts}
}

// validLevel requires price and size to parse to finite values ≥ 0.
func validLevel(l types.PriceLevel) bool {
	p, err := strconv.ParseFloat(l.Price, 64)
	if err != nil || p < 0 {
		return false
	}
	s, err := strconv.ParseFloat(l.Size, 64)
	if err != nil || s < 0 {
		return false
	}
	return true
}

// Orderbook returns the live projection for (venue, symbol).
func (e *Engine) Orderbook(venue types.Venue, symbol string) (types.Orderbook, bool) {
	k := key{venue, symbol}
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.books[k]
	if !ok {
		return types.Orderbook{}, false
	}
	return e.projectLocked(k, st), true
}

// CalculateSpread returns spread, spreadPercent and mid for the live book.
func (e *Engine) CalculateSpread(venue types.Venue, symbol string) (spread, spreadPercent, mid float64, ok bool) {
	ob, found := e.Orderbook(venue, symbol)
	if !found || len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0, 0, 0, false
	}
	return ob.Spread, ob.SpreadPercent, ob.MidPrice, true
}

// CalculatePriceImpact walks the sorted book to fill size, partially
// consuming the last level, and reports the average fill price against the
// mid as a signed percent: positive when the fill is worse than mid
// (paying above mid on a buy, receiving below mid on a sell).
func (e *Engine) CalculatePriceImpact(venue types.Venue, symbol string, side types.Side, size float64) (types.PriceImpact, bool) {
	ob, found := e.Orderbook(venue, symbol)
	if !found || size <= 0 {
		return types.PriceImpact{}, false
	}

	levels := ob.Asks
	if side == types.SideSell {
		levels = ob.Bids
	}
	if len(levels) == 0 || ob.MidPrice == 0 {
		return types.PriceImpact{}, false
	}

	remaining := size
	cost := 0.0
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		take := l.SizeFloat()
		if take > remaining {
			take = remaining
		}
		cost += take * l.PriceFloat()
		remaining -= take
	}

	filled := size - remaining
	if filled <= 0 {
		return types.PriceImpact{}, false
	}
	avg := cost / filled

	var impact float64
	if side == types.SideBuy {
		impact = (avg - ob.MidPrice) / ob.MidPrice * 100
	} else {
		impact = (ob.MidPrice - avg) / ob.MidPrice * 100
	}

	return types.PriceImpact{
		Venue:          venue,
		Symbol:         symbol,
		Side:           side,
		Size:           size,
		AvgFillPrice:   avg,
		MidPrice:       ob.MidPrice,
		ImpactPercent:  impact,
		FilledComplete: remaining <= 0,
	}, true
}

// Run re-snapshots every live projection into the cache on a fixed cadence
// to bound staleness of quiet books. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(resnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.writeThroughAll(ctx)
		}
	}
}

func (e *Engine) writeThroughAll(ctx context.Context) {
	e.mu.RLock()
	projections := make([]types.Orderbook, 0, len(e.books))
	for k, st := range e.books {
		projections = append(projections, e.projectLocked(k, st))
	}
	e.mu.RUnlock()

	for _, ob := range projections {
		if err := e.cache.Set(ctx, cache.OrderbookKey(string(ob.Venue), ob.Symbol), ob, e.bookTTL); err != nil {
			metrics.CacheErrors.WithLabelValues("book").Inc()
			e.logger.Warn("periodic book cache write failed", "error", err)
			return // transient backend trouble; next tick retries
		}
	}
}

// projectLocked builds the sorted projection. Callers hold e.mu (read or
// write); the projection shares no memory with the state maps.
func (e *Engine) projectLocked(k key, st *state) types.Orderbook {
	bids, bidTotal := sortSide(st.bids, true)
	asks, askTotal := sortSide(st.asks, false)

	ob := types.Orderbook{
		Venue:        k.venue,
		Symbol:       k.symbol,
		Bids:         bids,
		Asks:         asks,
		TotalBidSize: bidTotal,
		TotalAskSize: askTotal,
		Sequence:     st.sequence,
		Timestamp:    st.lastUpdate,
	}

	if len(bids) > 0 && len(asks) > 0 {
		bestBid := bids[0].PriceFloat()
		bestAsk := asks[0].PriceFloat()
		ob.Spread = bestAsk - bestBid
		if bestBid > 0 {
			ob.SpreadPercent = ob.Spread / bestBid * 100
		}
		ob.MidPrice = (bestBid + bestAsk) / 2
	}
	return ob
}

func sortSide(side map[string]level, descending bool) ([]types.PriceLevel, float64) {
	levels := make([]types.PriceLevel, 0, len(side))
	total := 0.0
	for price, l := range side {
		levels = append(levels, types.PriceLevel{Price: price, Size: l.size})
		sz, _ := strconv.ParseFloat(l.size, 64)
		total += sz
	}

	sort.Slice(levels, func(i, j int) bool {
		pi, pj := levels[i].PriceFloat(), levels[j].PriceFloat()
		if descending {
			return pi > pj
		}
		return pi < pj
	})

	if len(levels) > MaxDepth {
		levels = levels[:MaxDepth]
	}
	return levels, total
}

// emit publishes the projection: write-through cache, top-20 bus excerpt,
// then the registered full-projection callbacks. No engine lock is held.
func (e *Engine) emit(ctx context.Context, ob types.Orderbook) {
	if err := e.cache.Set(ctx, cache.OrderbookKey(string(ob.Venue), ob.Symbol), ob, e.bookTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("book").Inc()
		e.logger.Warn("book cache write failed", "error", err)
	}

	e.bus.Publish(bus.OrderbookChannel(string(ob.Venue), ob.Symbol), truncate(ob, PublishDepth))

	for _, fn := range e.onUpdate {
		fn(ob)
	}
}

// truncate returns a copy of the projection limited to depth levels a side.
func truncate(ob types.Orderbook, depth int) types.Orderbook {
	if len(ob.Bids) > depth {
		ob.Bids = ob.Bids[:depth]
	}
	if len(ob.Asks) > depth {
		ob.Asks = ob.Asks[:depth]
	}
	return ob
}
