package chart

import (
	"log/slog"
	"strconv"
	"sync"

	"perpagg/internal/bus"
	"perpagg/pkg/types"
)

// AggregatedEngine merges per-venue completed candles into one consolidated
// candle per (symbol, timeframe).
//
// Contributions arrive as venues complete their buckets, so the consolidated
// candle for bucket B stays open until some venue reports a later bucket:
// that first later report force-completes B. Open is the earliest-arriving
// venue's open, close tracks the latest contribution, highs/lows are
// extremes, volumes and trade counts are summed, and vwap is recomputed from
// the summed quote volume.
type AggregatedEngine struct {
	mu       sync.Mutex
	builders map[aggKey]*aggBuilder

	bus    *bus.Bus
	logger *slog.Logger
}

type aggKey struct {
	symbol string
	tf     types.Timeframe
}

type aggBuilder struct {
	bucket int64

	open, high, low, close float64
	volume, quoteVolume    float64
	tradeCount             int64
	venues                 map[types.Venue]bool
}

// NewAggregatedEngine creates the cross-venue candle merger.
func NewAggregatedEngine(b *bus.Bus, logger *slog.Logger) *AggregatedEngine {
	return &AggregatedEngine{
		builders: make(map[aggKey]*aggBuilder),
		bus:      b,
		logger:   logger.With("component", "agg_chart_engine"),
	}
}

// OnCandleCompleted folds one venue's completed candle into the consolidated
// builder for its (symbol, timeframe).
func (e *AggregatedEngine) OnCandleCompleted(c types.Candle) {
	if c.Venue == types.VenueAggregated {
		return
	}

	var completed, updated *types.Candle

	e.mu.Lock()
	k := aggKey{c.Symbol, c.Timeframe}
	b, ok := e.builders[k]
	switch {
	case ok && c.Timestamp < b.bucket:
		// Straggler for an already-completed bucket; drop it.
		e.mu.Unlock()
		e.logger.Debug("late venue candle dropped",
			"venue", c.Venue, "symbol", c.Symbol, "timeframe", c.Timeframe)
		return
	case ok && c.Timestamp > b.bucket:
		done := e.render(k, b)
		completed = &done
		ok = false
	}
	if !ok {
		b = &aggBuilder{
			bucket: c.Timestamp,
			open:   parseF(c.Open),
			high:   parseF(c.High),
			low:    parseF(c.Low),
			close:  parseF(c.Close),
			venues: map[types.Venue]bool{c.Venue: true},
		}
		e.builders[k] = b
	} else {
		if h := parseF(c.High); h > b.high {
			b.high = h
		}
		if l := parseF(c.Low); l < b.low {
			b.low = l
		}
		b.close = parseF(c.Close)
		b.venues[c.Venue] = true
	}
	b.volume += parseF(c.Volume)
	b.quoteVolume += parseF(c.QuoteVolume)
	b.tradeCount += c.TradeCount
	cur := e.render(k, b)
	updated = &cur
	e.mu.Unlock()

	if completed != nil {
		e.bus.Publish(bus.CandlesChannel(string(types.VenueAggregated), completed.Symbol, string(completed.Timeframe)),
			types.CandleEvent{Type: types.CandleNew, Candle: *completed})
	}
	e.bus.Publish(bus.CandlesChannel(string(types.VenueAggregated), updated.Symbol, string(updated.Timeframe)),
		types.CandleEvent{Type: types.CandleUpdate, Candle: *updated})
}

// ForceCompleteAll flushes every consolidated builder, used on shutdown.
func (e *AggregatedEngine) ForceCompleteAll() {
	e.mu.Lock()
	done := make([]types.Candle, 0, len(e.builders))
	for k, b := range e.builders {
		done = append(done, e.render(k, b))
		delete(e.builders, k)
	}
	e.mu.Unlock()

	for _, c := range done {
		e.bus.Publish(bus.CandlesChannel(string(types.VenueAggregated), c.Symbol, string(c.Timeframe)),
			types.CandleEvent{Type: types.CandleNew, Candle: c})
	}
}

// render builds the emitted candle. Callers hold e.mu.
func (e *AggregatedEngine) render(k aggKey, b *aggBuilder) types.Candle {
	vwap := b.open
	if b.volume > 0 {
		vwap = b.quoteVolume / b.volume
	}
	change := b.close - b.open
	pct := 0.0
	if b.open != 0 {
		pct = change / b.open * 100
	}
	return types.Candle{
		Symbol:             k.symbol,
		Venue:              types.VenueAggregated,
		Timeframe:          k.tf,
		Timestamp:          b.bucket,
		Open:               formatFloat(b.open),
		High:               formatFloat(b.high),
		Low:                formatFloat(b.low),
		Close:              formatFloat(b.close),
		Volume:             formatFloat(b.volume),
		QuoteVolume:        formatFloat(b.quoteVolume),
		TradeCount:         b.tradeCount,
		VWAP:               formatFloat(vwap),
		PriceChange:        formatFloat(change),
		PriceChangePercent: formatFloat(pct),
	}
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
