package chart

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"perpagg/internal/bus"
	"perpagg/internal/cache"
	"perpagg/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine() (*Engine, *bus.Bus) {
	b := bus.New(testLogger())
	return New(b, cache.NewMemory(), time.Hour, nil, testLogger()), b
}

// baseTime sits exactly on a 1d bucket boundary so every timeframe starts a
// fresh bucket.
var baseTime = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

func tick(symbol, price, size string, at time.Time) types.TickData {
	return types.TickData{
		Symbol:    symbol,
		Venue:     types.VenueHyperliquid,
		Price:     price,
		Size:      size,
		Timestamp: at,
	}
}

func findCandle(cs []types.Candle, tf types.Timeframe) (types.Candle, bool) {
	for _, c := range cs {
		if c.Timeframe == tf {
			return c, true
		}
	}
	return types.Candle{}, false
}

func TestFirstTickInitializesBuilder(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine()
	ctx := context.Background()

	e.ProcessTickData(ctx, tick("BTC", "100", "2", baseTime))

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.builders) != len(types.AllTimeframes()) {
		t.Fatalf("got %d builders, want %d", len(e.builders), len(types.AllTimeframes()))
	}
	b := e.builders[key{types.VenueHyperliquid, "BTC", types.TF1m}]
	if b.open != 100 || b.high != 100 || b.low != 100 || b.close != 100 {
		t.Errorf("ohlc = %v/%v/%v/%v, want all 100", b.open, b.high, b.low, b.close)
	}
	if b.volume != 2 || b.quoteVolume != 200 || b.tradeCount != 1 {
		t.Errorf("volume=%v quote=%v count=%d, want 2/200/1", b.volume, b.quoteVolume, b.tradeCount)
	}
}

func TestBucketCrossingCompletesCandle(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine()
	ctx := context.Background()

	var completed []types.Candle
	e.OnCompleted(func(c types.Candle) { completed = append(completed, c) })

	e.ProcessTickData(ctx, tick("BTC", "100", "1", baseTime))
	e.ProcessTickData(ctx, tick("BTC", "105", "1", baseTime.Add(1500*time.Millisecond)))

	// Only the 1s bucket crossed; every longer timeframe is still open.
	if len(completed) != 1 {
		t.Fatalf("got %d completed candles, want 1: %+v", len(completed), completed)
	}
	c := completed[0]
	if c.Timeframe != types.TF1s {
		t.Errorf("timeframe = %q, want 1s", c.Timeframe)
	}
	if c.Open != "100" || c.Close != "100" || c.Volume != "1" || c.TradeCount != 1 {
		t.Errorf("completed candle = %+v", c)
	}
	if c.Timestamp != baseTime.UnixMilli() {
		t.Errorf("bucket = %d, want %d", c.Timestamp, baseTime.UnixMilli())
	}

	// The new 1s builder opened at the second tick's price.
	e.mu.Lock()
	b := e.builders[key{types.VenueHyperliquid, "BTC", types.TF1s}]
	e.mu.Unlock()
	if b.open != 105 || b.bucket != baseTime.Add(time.Second).UnixMilli() {
		t.Errorf("new builder open=%v bucket=%d", b.open, b.bucket)
	}
}

func TestSyntheticTickMovesPricesOnly(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine()
	ctx := context.Background()

	e.ProcessTickData(ctx, tick("BTC", "100", "2", baseTime))
	e.ProcessTickData(ctx, tick("BTC", "110", "0", baseTime.Add(100*time.Millisecond)))

	e.mu.Lock()
	b := e.builders[key{types.VenueHyperliquid, "BTC", types.TF1m}]
	e.mu.Unlock()

	if b.high != 110 || b.close != 110 {
		t.Errorf("high=%v close=%v, want 110/110", b.high, b.close)
	}
	if b.volume != 2 || b.tradeCount != 1 {
		t.Errorf("volume=%v count=%d changed by synthetic tick", b.volume, b.tradeCount)
	}
	// VWAP stays on real volume only.
	if got := b.vwap(); got != 100 {
		t.Errorf("vwap = %v, want 100", got)
	}
}

func TestSyntheticFirstTickOpensZeroVolumeCandle(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine()

	e.ProcessTickData(context.Background(), tick("ETH", "3200", "0", baseTime))

	e.mu.Lock()
	b := e.builders[key{types.VenueHyperliquid, "ETH", types.TF1m}]
	e.mu.Unlock()
	if b.open != 3200 || b.volume != 0 || b.tradeCount != 0 {
		t.Errorf("builder = %+v, want price-only init", b)
	}
	if got := b.vwap(); got != 3200 {
		t.Errorf("vwap = %v, want open fallback 3200", got)
	}
}

func TestVWAPAndChange(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine()
	ctx := context.Background()

	e.ProcessTickData(ctx, tick("BTC", "100", "1", baseTime))
	e.ProcessTickData(ctx, tick("BTC", "110", "3", baseTime.Add(200*time.Millisecond)))

	e.mu.Lock()
	c := e.builders[key{types.VenueHyperliquid, "BTC", types.TF1m}].candle()
	e.mu.Unlock()

	// (100·1 + 110·3) / 4 = 107.5
	if c.VWAP != "107.5" {
		t.Errorf("vwap = %q, want 107.5", c.VWAP)
	}
	if c.PriceChange != "10" || c.PriceChangePercent != "10" {
		t.Errorf("change = %q (%q%%), want 10 (10%%)", c.PriceChange, c.PriceChangePercent)
	}
}

func TestCandleEventsPublished(t *testing.T) {
	t.Parallel()
	e, b := newTestEngine()
	sub := b.Subscribe(bus.CandlesChannel("hyperliquid", "BTC", "1s"))

	e.ProcessTickData(context.Background(), tick("BTC", "100", "1", baseTime))

	env := <-sub.C
	evt := env.Data.(types.CandleEvent)
	if evt.Type != types.CandleUpdate {
		t.Errorf("event type = %q, want update", evt.Type)
	}
	if evt.Candle.Close != "100" {
		t.Errorf("candle = %+v", evt.Candle)
	}
}

func TestForceCompleteAllCandles(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine()
	ctx := context.Background()

	var completed []types.Candle
	e.OnCompleted(func(c types.Candle) { completed = append(completed, c) })

	e.ProcessTickData(ctx, tick("BTC", "100", "1", baseTime))
	e.ForceCompleteAllCandles(ctx)

	if len(completed) != len(types.AllTimeframes()) {
		t.Fatalf("completed %d candles, want %d", len(completed), len(types.AllTimeframes()))
	}
	if _, ok := findCandle(completed, types.TF1d); !ok {
		t.Error("1d candle missing from forced completion")
	}

	e.mu.Lock()
	remaining := len(e.builders)
	e.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d builders left after force complete", remaining)
	}
}

func TestInvalidPriceDropped(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine()

	e.ProcessTickData(context.Background(), tick("BTC", "bogus", "1", baseTime))

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.builders) != 0 {
		t.Errorf("unparsable tick created %d builders", len(e.builders))
	}
}
