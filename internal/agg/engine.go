// Package agg merges per-venue order books into one consolidated book per
// symbol, with best-execution routing.
//
// Every incoming per-venue book is stored, then the symbol is re-aggregated
// and published unless it published within the last throttle interval; in
// which case the update is dropped, not queued, and the next eligible update
// carries the fresh state. Prices from different venues are comparable only
// after normalizing to the 0.01 grid (half-away-from-zero).
package agg

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpagg/internal/bus"
	"perpagg/internal/cache"
	"perpagg/internal/metrics"
	"perpagg/pkg/types"
)

// venueTopDepth bounds the per-venue excerpt embedded in AggregatedBook.
const venueTopDepth = 20

type key struct {
	venue  types.Venue
	symbol string
}

// Engine is the cross-venue aggregation engine.
type Engine struct {
	mu    sync.RWMutex
	books map[key]types.Orderbook

	bus        *bus.Bus
	cache      cache.Cache
	throttle   *throttle
	maxLevels  int
	bookTTL    time.Duration
	routingTTL time.Duration

	logger *slog.Logger
}

// New creates the engine. throttleInterval is the per-symbol minimum publish
// interval; maxLevels bounds each aggregated side.
func New(b *bus.Bus, c cache.Cache, throttleInterval time.Duration, maxLevels int, bookTTL, routingTTL time.Duration, logger *slog.Logger) *Engine {
	if maxLevels <= 0 {
		maxLevels = 50
	}
	return &Engine{
		books:      make(map[key]types.Orderbook),
		bus:        b,
		cache:      c,
		throttle:   newThrottle(throttleInterval),
		maxLevels:  maxLevels,
		bookTTL:    bookTTL,
		routingTTL: routingTTL,
		logger:     logger.With("component", "aggregation_engine"),
	}
}

// ProcessOrderbookUpdate stores one venue's book and re-aggregates the
// symbol, subject to the publish throttle.
func (e *Engine) ProcessOrderbookUpdate(ctx context.Context, ob types.Orderbook) {
	e.mu.Lock()
	e.books[key{ob.Venue, ob.Symbol}] = ob
	e.mu.Unlock()

	if !e.throttle.allow(ob.Symbol) {
		metrics.AggThrottled.Inc()
		return
	}
	e.aggregateAndPublish(ctx, ob.Symbol)
}

// snapshotBooks copies the stored books for symbol in the fixed venue order,
// so per-price source lists come out deterministic regardless of update
// arrival order.
func (e *Engine) snapshotBooks(symbol string) []types.Orderbook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ordered := make([]types.Orderbook, 0, len(types.AllVenues()))
	for _, v := range types.AllVenues() {
		if ob, ok := e.books[key{v, symbol}]; ok {
			ordered = append(ordered, ob)
		}
	}
	return ordered
}

// buildBook assembles the consolidated book from the ordered venue books.
func (e *Engine) buildBook(symbol string, ordered []types.Orderbook) types.AggregatedBook {
	book := types.AggregatedBook{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Venues:    make(map[types.Venue]types.VenueTop, len(ordered)),
	}
	for _, ob := range ordered {
		book.Venues[ob.Venue] = types.VenueTop{
			Bids: head(ob.Bids, venueTopDepth),
			Asks: head(ob.Asks, venueTopDepth),
		}
	}

	book.Aggregated.Bids = e.mergeSide(ordered, true)
	book.Aggregated.Asks = e.mergeSide(ordered, false)
	if len(book.Aggregated.Bids) > 0 {
		book.Aggregated.BestBid = bestQuote(book.Aggregated.Bids[0])
	}
	if len(book.Aggregated.Asks) > 0 {
		book.Aggregated.BestAsk = bestQuote(book.Aggregated.Asks[0])
	}
	if book.Aggregated.BestBid != nil && book.Aggregated.BestAsk != nil {
		book.Aggregated.Spread = book.Aggregated.BestAsk.Price - book.Aggregated.BestBid.Price
	}
	book.Routing = e.routing(ordered)
	return book
}

func (e *Engine) aggregateAndPublish(ctx context.Context, symbol string) {
	ordered := e.snapshotBooks(symbol)
	if len(ordered) == 0 {
		return
	}
	book := e.buildBook(symbol, ordered)

	metrics.AggPublishes.Inc()
	e.bus.Publish(bus.AggregatedBookChannel(symbol), book)
	e.bus.Publish(bus.RoutingChannel(symbol), book.Routing)

	if err := e.cache.Set(ctx, cache.AggBookKey(symbol), book, e.bookTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("agg").Inc()
		e.logger.Warn("aggregated book cache write failed", "error", err)
	}
	if err := e.cache.Set(ctx, cache.AggRoutingKey(symbol), book.Routing, e.routingTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("agg").Inc()
		e.logger.Warn("routing cache write failed", "error", err)
	}
}

// AggregatedBookFor re-aggregates on demand, bypassing the throttle. Used by
// the read surface when the cache misses.
func (e *Engine) AggregatedBookFor(symbol string) (types.AggregatedBook, bool) {
	ordered := e.snapshotBooks(symbol)
	if len(ordered) == 0 {
		return types.AggregatedBook{}, false
	}
	return e.buildBook(symbol, ordered), true
}

// mergeSide merges one side of every venue book onto the 0.01 price grid.
// Levels arrive sorted per venue, so the merged map only needs one sort at
// the end. descending selects bids.
func (e *Engine) mergeSide(ordered []types.Orderbook, descending bool) []types.AggregatedLevel {
	merged := make(map[float64]*types.AggregatedLevel)
	keys := make([]float64, 0, 64)

	for _, ob := range ordered {
		levels := ob.Asks
		if descending {
			levels = ob.Bids
		}
		for _, l := range levels {
			price, ok := normalizePrice(l.Price)
			if !ok {
				continue
			}
			size := l.SizeFloat()
			if size <= 0 {
				continue
			}

			lvl, seen := merged[price]
			if !seen {
				lvl = &types.AggregatedLevel{Price: price}
				merged[price] = lvl
				keys = append(keys, price)
			}
			lvl.TotalSize += size

			// Two raw prices from the same venue can land on one grid
			// point; their sizes collapse into that venue's entry.
			found := false
			for i := range lvl.Sources {
				if lvl.Sources[i].Platform == ob.Venue {
					lvl.Sources[i].Size += size
					found = true
					break
				}
			}
			if !found {
				lvl.Sources = append(lvl.Sources, types.SourceSize{Platform: ob.Venue, Size: size})
			}
		}
	}

	sortFloats(keys, descending)
	if len(keys) > e.maxLevels {
		keys = keys[:e.maxLevels]
	}

	out := make([]types.AggregatedLevel, 0, len(keys))
	for _, k := range keys {
		out = append(out, *merged[k])
	}
	return out
}

// normalizePrice rounds a decimal string to the 0.01 grid, half away from
// zero, then converts for comparison and output.
func normalizePrice(s string) (float64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Round(2).Float64()
	if f <= 0 {
		return 0, false
	}
	return f, true
}

// routing picks the best venue for each direction: lowest top-of-ask to buy,
// highest top-of-bid to sell. Savings compare the chosen price against the
// mean of the other venues that actually quote the side.
func (e *Engine) routing(ordered []types.Orderbook) types.Routing {
	type top struct {
		venue types.Venue
		price float64
	}
	var asks, bids []top
	for _, ob := range ordered {
		if len(ob.Asks) > 0 {
			if p := ob.Asks[0].PriceFloat(); p > 0 {
				asks = append(asks, top{ob.Venue, p})
			}
		}
		if len(ob.Bids) > 0 {
			if p := ob.Bids[0].PriceFloat(); p > 0 {
				bids = append(bids, top{ob.Venue, p})
			}
		}
	}

	pick := func(tops []top, lowest bool) types.RoutingLeg {
		if len(tops) == 0 {
			return types.RoutingLeg{Platform: types.VenueHyperliquid}
		}
		chosen := tops[0]
		for _, t := range tops[1:] {
			if (lowest && t.price < chosen.price) || (!lowest && t.price > chosen.price) {
				chosen = t
			}
		}
		leg := types.RoutingLeg{Platform: chosen.venue, Price: chosen.price}

		sum, n := 0.0, 0
		for _, t := range tops {
			if t.venue == chosen.venue {
				continue
			}
			sum += t.price
			n++
		}
		if n > 0 {
			leg.Savings = math.Abs(sum/float64(n) - chosen.price)
			if chosen.price > 0 {
				leg.SavingsPercent = leg.Savings / chosen.price * 100
			}
		}
		return leg
	}

	return types.Routing{
		Buy:  pick(asks, true),
		Sell: pick(bids, false),
	}
}

func bestQuote(lvl types.AggregatedLevel) *types.BestQuote {
	q := &types.BestQuote{Price: lvl.Price}
	if len(lvl.Sources) > 0 {
		q.Platform = lvl.Sources[0].Platform
		q.Size = lvl.Sources[0].Size
	}
	return q
}

func head(levels []types.PriceLevel, n int) []types.PriceLevel {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}

func sortFloats(keys []float64, descending bool) {
	sort.Slice(keys, func(i, j int) bool {
		if descending {
			return keys[i] > keys[j]
		}
		return keys[i] < keys[j]
	})
}
