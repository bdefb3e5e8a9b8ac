// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the aggregator: normalized venue
// events, order book projections, candles, and the consolidated cross-venue
// book. It has no dependencies on internal packages, so it can be imported by
// any layer. Prices and sizes are carried as decimal strings at ingestion
// (venues differ in precision) and converted to float64 only at arithmetic
// sites.
package types

import (
	"strconv"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Venues and sides
// ————————————————————————————————————————————————————————————————————————

// Venue identifies a perpetual-futures trading platform we ingest from.
type Venue string

const (
	VenueHyperliquid Venue = "hyperliquid"
	VenueAster       Venue = "aster"
	VenueLighter     Venue = "lighter"
	VenueAvantis     Venue = "avantis"
)

// AllVenues returns every supported venue in canonical order. The order is
// load-bearing: aggregation source lists and routing defaults follow it.
func AllVenues() []Venue {
	return []Venue{VenueHyperliquid, VenueAster, VenueLighter, VenueAvantis}
}

// Side represents the aggressor direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ————————————————————————————————————————————————————————————————————————
// Timeframes
// ————————————————————————————————————————————————————————————————————————

// Timeframe is a candle interval identifier.
type Timeframe string

const (
	TF1s  Timeframe = "1s"
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// AllTimeframes returns the fixed timeframe set the chart engine builds.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1s, TF1m, TF5m, TF15m, TF1h, TF4h, TF1d}
}

// Duration returns the timeframe's length. Unknown timeframes return 0.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case TF1s:
		return time.Second
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Millis returns the timeframe length in milliseconds, the unit candle
// buckets are keyed by.
func (t Timeframe) Millis() int64 {
	return t.Duration().Milliseconds()
}

// BucketStart returns the start of the candle bucket containing tsMillis:
// ⌊ts/tf⌋·tf.
func (t Timeframe) BucketStart(tsMillis int64) int64 {
	tf := t.Millis()
	if tf == 0 {
		return tsMillis
	}
	return tsMillis / tf * tf
}

// ————————————————————————————————————————————————————————————————————————
// Normalized venue events
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Price and Size are strings because
// venues return them as strings to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "180.52"
	Size  string `json:"size"`  // e.g. "12.5"; "0" means the level is removed
}

// PriceFloat returns the parsed price, 0 on malformed input.
func (l PriceLevel) PriceFloat() float64 { return parseFloat(l.Price) }

// SizeFloat returns the parsed size, 0 on malformed input.
func (l PriceLevel) SizeFloat() float64 { return parseFloat(l.Size) }

// Snapshot is a full order book replacement for one (venue, symbol).
// Sequence is venue-provided where available, otherwise a local monotonic
// counter assigned by the adapter.
type Snapshot struct {
	Venue     Venue        `json:"venue"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // as received, not necessarily sorted
	Asks      []PriceLevel `json:"asks"`
	Sequence  uint64       `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
}

// Delta is an incremental book update: each level upserts its price, and
// size "0" removes it.
type Delta struct {
	Venue     Venue        `json:"venue"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Sequence  uint64       `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
}

// Trade is a normalized venue trade. ID is unique per venue; adapters
// synthesize one when the venue omits it.
type Trade struct {
	ID        string    `json:"id"`
	Venue     Venue     `json:"venue"`
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceFloat returns the parsed trade price, 0 on malformed input.
func (t Trade) PriceFloat() float64 { return parseFloat(t.Price) }

// SizeFloat returns the parsed trade size, 0 on malformed input.
func (t Trade) SizeFloat() float64 { return parseFloat(t.Size) }

// TickData is a price observation fed to the chart engine. Real trades carry
// their size; synthetic midpoint ticks carry Size "0" and must not move
// candle volume or trade count.
type TickData struct {
	Symbol    string    `json:"symbol"`
	Venue     Venue     `json:"venue"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Side      Side      `json:"side,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TradeID   string    `json:"trade_id,omitempty"`
}

// IsSynthetic reports whether this tick is a zero-size midpoint observation.
func (t TickData) IsSynthetic() bool {
	return t.Size == "" || t.Size == "0" || t.Size == "0.0"
}

// PriceFloat parses the price for arithmetic. Unparsable prices become 0.
func (t TickData) PriceFloat() float64 {
	v, _ := strconv.ParseFloat(t.Price, 64)
	return v
}

// SizeFloat parses the size for arithmetic. Unparsable sizes become 0.
func (t TickData) SizeFloat() float64 {
	v, _ := strconv.ParseFloat(t.Size, 64)
	return v
}

// VenueStatusKind enumerates adapter lifecycle notifications.
type VenueStatusKind string

const (
	StatusConnected    VenueStatusKind = "connected"
	StatusDisconnected VenueStatusKind = "disconnected"
	StatusError        VenueStatusKind = "error"
)

// VenueStatus is an adapter lifecycle event.
type VenueStatus struct {
	Venue     Venue           `json:"venue"`
	Kind      VenueStatusKind `json:"kind"`
	Reason    string          `json:"reason,omitempty"` // disconnect reason or error kind
	Detail    string          `json:"detail,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book projection
// ————————————————————————————————————————————————————————————————————————

// Orderbook is the emitted projection of one venue's book: bids sorted
// descending, asks ascending, at most 1000 levels per side.
type Orderbook struct {
	Venue         Venue        `json:"venue"`
	Symbol        string       `json:"symbol"`
	Bids          []PriceLevel `json:"bids"`
	Asks          []PriceLevel `json:"asks"`
	TotalBidSize  float64      `json:"total_bid_size"`
	TotalAskSize  float64      `json:"total_ask_size"`
	Spread        float64      `json:"spread"`
	SpreadPercent float64      `json:"spread_percent"`
	MidPrice      float64      `json:"mid_price"`
	Sequence      uint64       `json:"sequence"`
	Timestamp     time.Time    `json:"timestamp"`
}

// BestBid returns the top bid price, 0 when the side is empty.
func (o Orderbook) BestBid() float64 {
	if len(o.Bids) == 0 {
		return 0
	}
	return o.Bids[0].PriceFloat()
}

// BestAsk returns the top ask price, 0 when the side is empty.
func (o Orderbook) BestAsk() float64 {
	if len(o.Asks) == 0 {
		return 0
	}
	return o.Asks[0].PriceFloat()
}

// Ticker returns the lightweight top-of-book view of this projection.
func (o Orderbook) Ticker() BookTicker {
	return BookTicker{
		Venue:     o.Venue,
		Symbol:    o.Symbol,
		BestBid:   o.BestBid(),
		BestAsk:   o.BestAsk(),
		Timestamp: o.Timestamp,
	}
}

// BookTicker is the top-of-book for one (venue, symbol).
type BookTicker struct {
	Venue     Venue     `json:"venue"`
	Symbol    string    `json:"symbol"`
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceImpact is the result of walking the book to fill a given size.
type PriceImpact struct {
	Venue          Venue   `json:"venue"`
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	Size           float64 `json:"size"`
	AvgFillPrice   float64 `json:"avg_fill_price"`
	MidPrice       float64 `json:"mid_price"`
	ImpactPercent  float64 `json:"impact_percent"` // signed: positive = worse than mid
	FilledComplete bool    `json:"filled_complete"`
}

// ————————————————————————————————————————————————————————————————————————
// Candles
// ————————————————————————————————————————————————————————————————————————

// VenueAggregated is the pseudo-venue consolidated candles are emitted under.
const VenueAggregated Venue = "agg"

// Candle is an emitted OHLCV candle. Numeric fields are strings to preserve
// the precision the venue delivered; Timestamp is the bucket start in Unix
// milliseconds.
type Candle struct {
	Symbol             string    `json:"symbol"`
	Venue              Venue     `json:"venue"`
	Timeframe          Timeframe `json:"timeframe"`
	Timestamp          int64     `json:"timestamp"`
	Open               string    `json:"open"`
	High               string    `json:"high"`
	Low                string    `json:"low"`
	Close              string    `json:"close"`
	Volume             string    `json:"volume"`
	QuoteVolume        string    `json:"quote_volume"`
	TradeCount         int64     `json:"trade_count"`
	VWAP               string    `json:"vwap"`
	PriceChange        string    `json:"price_change"`
	PriceChangePercent string    `json:"price_change_percent"`
}

// CandleEventType distinguishes in-flight updates from bucket completions.
type CandleEventType string

const (
	CandleUpdate CandleEventType = "update" // in-flight builder changed
	CandleNew    CandleEventType = "new"    // previous bucket completed
)

// CandleEvent wraps a candle with its update semantics for bus delivery.
type CandleEvent struct {
	Type   CandleEventType `json:"type"`
	Candle Candle          `json:"candle"`
}

// ————————————————————————————————————————————————————————————————————————
// Consolidated book
// ————————————————————————————————————————————————————————————————————————

// SourceSize is one venue's contribution to an aggregated price level.
type SourceSize struct {
	Platform Venue   `json:"platform"`
	Size     float64 `json:"size"`
}

// AggregatedLevel is one price level of the consolidated book. Price is
// normalized to 0.01; TotalSize equals the sum of Sources sizes.
type AggregatedLevel struct {
	Price     float64      `json:"price"`
	TotalSize float64      `json:"total_size"`
	Sources   []SourceSize `json:"sources"`
}

// BestQuote identifies the top consolidated level and which venue leads it.
type BestQuote struct {
	Price    float64 `json:"price"`
	Platform Venue   `json:"platform"`
	Size     float64 `json:"size"`
}

// RoutingLeg is a best-execution recommendation for one direction.
type RoutingLeg struct {
	Platform       Venue   `json:"platform"`
	Price          float64 `json:"price"`
	Savings        float64 `json:"savings"`
	SavingsPercent float64 `json:"savings_percent"`
}

// Routing pairs the buy and sell recommendations.
type Routing struct {
	Buy  RoutingLeg `json:"buy"`
	Sell RoutingLeg `json:"sell"`
}

// VenueTop is a per-venue top-of-book excerpt carried inside AggregatedBook.
type VenueTop struct {
	Bids []PriceLevel `json:"bids"` // top 20
	Asks []PriceLevel `json:"asks"`
}

// AggregatedSides holds the merged book with its derived top-of-book values.
type AggregatedSides struct {
	Bids    []AggregatedLevel `json:"bids"` // sorted desc, ≤50
	Asks    []AggregatedLevel `json:"asks"` // sorted asc, ≤50
	Spread  float64           `json:"spread"`
	BestBid *BestQuote        `json:"best_bid,omitempty"`
	BestAsk *BestQuote        `json:"best_ask,omitempty"`
}

// AggregatedBook is the consolidated cross-venue book published per symbol.
type AggregatedBook struct {
	Symbol     string             `json:"symbol"`
	Timestamp  time.Time          `json:"timestamp"`
	Aggregated AggregatedSides    `json:"aggregated"`
	Venues     map[Venue]VenueTop `json:"venues"`
	Routing    Routing            `json:"routing"`
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
