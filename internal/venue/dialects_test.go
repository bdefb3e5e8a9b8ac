package venue

import (
	"io"
	"log/slog"
	"testing"

	"perpagg/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSink(v types.Venue) *eventSink {
	return newEventSink(v, testLogger())
}

func TestHyperliquidParseBook(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueHyperliquid)
	d := hyperliquidDialect{}

	msg := []byte(`{"channel":"l2Book","data":{"coin":"BTC","time":1700000000000,"levels":[[{"px":"64000.5","sz":"1.2","n":3}],[{"px":"64001.0","sz":"0.8","n":2}]]}}`)
	isData, err := d.parse(msg, sink)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !isData {
		t.Error("l2Book frame should count as data")
	}

	snap := <-sink.snapCh
	if snap.Venue != types.VenueHyperliquid {
		t.Errorf("venue = %q, want hyperliquid", snap.Venue)
	}
	if snap.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", snap.Symbol)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != "64000.5" || snap.Bids[0].Size != "1.2" {
		t.Errorf("bids = %+v", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Price != "64001.0" {
		t.Errorf("asks = %+v", snap.Asks)
	}
	if snap.Sequence == 0 {
		t.Error("sequence should be locally assigned when the venue provides none")
	}
}

func TestHyperliquidParseTrades(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueHyperliquid)
	d := hyperliquidDialect{}

	msg := []byte(`{"channel":"trades","data":[{"coin":"ETH","side":"B","px":"3200.1","sz":"2","time":1700000000500,"tid":42},{"coin":"ETH","side":"A","px":"3200.0","sz":"1","time":1700000000600,"tid":43}]}`)
	if _, err := d.parse(msg, sink); err != nil {
		t.Fatalf("parse: %v", err)
	}

	batch := <-sink.tradeCh
	if len(batch) != 2 {
		t.Fatalf("got %d trades, want 2", len(batch))
	}
	if batch[0].Side != types.SideBuy || batch[1].Side != types.SideSell {
		t.Errorf("sides = %q, %q", batch[0].Side, batch[1].Side)
	}
	if batch[0].ID != "42" || batch[0].Price != "3200.1" {
		t.Errorf("trade = %+v", batch[0])
	}
}

func TestHyperliquidPongIsNotData(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueHyperliquid)
	d := hyperliquidDialect{}

	isData, err := d.parse([]byte(`{"channel":"pong"}`), sink)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if isData {
		t.Error("pong must not count as data")
	}
}

func TestAsterParseDepthSnapshot(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueAster)
	d := &asterDialect{}

	msg := []byte(`{"stream":"btcusdt@depth20@100ms","data":{"lastUpdateId":900,"E":1700000000000,"bids":[["64000.5","1.2"]],"asks":[["64001.0","0.8"]]}}`)
	isData, err := d.parse(msg, sink)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !isData {
		t.Error("depth20 frame should count as data")
	}

	snap := <-sink.snapCh
	if snap.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", snap.Symbol)
	}
	if snap.Sequence != 900 {
		t.Errorf("sequence = %d, want venue-provided 900", snap.Sequence)
	}
	if snap.Bids[0].Price != "64000.5" {
		t.Errorf("bids = %+v", snap.Bids)
	}
}

func TestAsterParseDepthUpdate(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueAster)
	d := &asterDialect{}

	msg := []byte(`{"stream":"ethusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000001000,"s":"ETHUSDT","u":901,"b":[["3200.0","0"]],"a":[["3201.0","5"]]}}`)
	if _, err := d.parse(msg, sink); err != nil {
		t.Fatalf("parse: %v", err)
	}

	delta := <-sink.deltaCh
	if delta.Symbol != "ETH" {
		t.Errorf("symbol = %q, want ETH", delta.Symbol)
	}
	if delta.Sequence != 901 {
		t.Errorf("sequence = %d, want 901", delta.Sequence)
	}
	if delta.Bids[0].Size != "0" {
		t.Errorf("removal level lost its zero size: %+v", delta.Bids[0])
	}
}

func TestAsterParseAggTrade(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueAster)
	d := &asterDialect{}

	// m=true: the buyer was the maker, so the aggressor sold.
	msg := []byte(`{"stream":"solusdt@aggTrade","data":{"e":"aggTrade","s":"SOLUSDT","a":7,"p":"180.52","q":"3","T":1700000002000,"m":true}}`)
	if _, err := d.parse(msg, sink); err != nil {
		t.Fatalf("parse: %v", err)
	}

	batch := <-sink.tradeCh
	if batch[0].Side != types.SideSell {
		t.Errorf("side = %q, want sell for buyer-is-maker", batch[0].Side)
	}
	if batch[0].Symbol != "SOL" || batch[0].Price != "180.52" {
		t.Errorf("trade = %+v", batch[0])
	}
}

func TestAsterAckIgnored(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueAster)
	d := &asterDialect{}

	isData, err := d.parse([]byte(`{"result":null,"id":1}`), sink)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if isData {
		t.Error("subscription ack must not count as data")
	}
}

func TestLighterParseBook(t *testing.T) {
	t.Parallel()
	markets := NewMarketMap()
	markets.Replace(map[string]int{"BTC": 3})
	sink := newTestSink(types.VenueLighter)
	d := &lighterDialect{markets: markets}

	snapMsg := []byte(`{"type":"subscribed/order_book","channel":"order_book:3","order_book":{"offset":50,"bids":[{"price":"64000.5","size":"1.2"}],"asks":[{"price":"64001.0","size":"0.8"}]}}`)
	if _, err := d.parse(snapMsg, sink); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	snap := <-sink.snapCh
	if snap.Symbol != "BTC" || snap.Sequence != 50 {
		t.Errorf("snapshot = %+v", snap)
	}

	updMsg := []byte(`{"type":"update/order_book","channel":"order_book:3","order_book":{"offset":51,"bids":[],"asks":[{"price":"64001.0","size":"0"}]}}`)
	if _, err := d.parse(updMsg, sink); err != nil {
		t.Fatalf("parse update: %v", err)
	}
	delta := <-sink.deltaCh
	if delta.Sequence != 51 || delta.Asks[0].Size != "0" {
		t.Errorf("delta = %+v", delta)
	}
}

func TestLighterUnknownMarketID(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueLighter)
	d := &lighterDialect{markets: NewMarketMap()}

	msg := []byte(`{"type":"update/order_book","channel":"order_book:99","order_book":{"offset":1}}`)
	if _, err := d.parse(msg, sink); err == nil {
		t.Error("expected error for unmapped order book id")
	}
}

func TestLighterParseTrades(t *testing.T) {
	t.Parallel()
	markets := NewMarketMap()
	markets.Replace(map[string]int{"ETH": 7})
	sink := newTestSink(types.VenueLighter)
	d := &lighterDialect{markets: markets}

	msg := []byte(`{"type":"update/trade","channel":"trade:7","trades":[{"trade_id":11,"price":"3200.5","size":"2","is_maker_ask":true,"timestamp":1700000003000}]}`)
	if _, err := d.parse(msg, sink); err != nil {
		t.Fatalf("parse: %v", err)
	}

	batch := <-sink.tradeCh
	if batch[0].Side != types.SideBuy {
		t.Errorf("side = %q, want buy when the maker was the ask", batch[0].Side)
	}
	if batch[0].Symbol != "ETH" || batch[0].ID != "11" {
		t.Errorf("trade = %+v", batch[0])
	}
}

func TestAvantisParseBook(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueAvantis)
	d := avantisDialect{}

	snapMsg := []byte(`{"topic":"orderbook.BTC","type":"snapshot","data":{"ts":1700000000000,"bids":[{"price":"64000.5","amount":"1.2"}],"asks":[{"price":"64001.0","amount":"0.8"}]}}`)
	if _, err := d.parse(snapMsg, sink); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	snap := <-sink.snapCh
	if snap.Symbol != "BTC" || snap.Bids[0].Size != "1.2" {
		t.Errorf("snapshot = %+v", snap)
	}

	deltaMsg := []byte(`{"topic":"orderbook.BTC","type":"delta","data":{"ts":1700000000100,"bids":[{"price":"64000.5","amount":"0"}],"asks":[]}}`)
	if _, err := d.parse(deltaMsg, sink); err != nil {
		t.Fatalf("parse delta: %v", err)
	}
	delta := <-sink.deltaCh
	if delta.Bids[0].Size != "0" {
		t.Errorf("delta = %+v", delta)
	}
}

func TestAvantisParseTradesSynthesizesID(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueAvantis)
	d := avantisDialect{}

	msg := []byte(`{"topic":"allTrades","data":[{"symbol":"SOL","price":"180.52","amount":"5","side":"buy","ts":1700000004000}]}`)
	if _, err := d.parse(msg, sink); err != nil {
		t.Fatalf("parse: %v", err)
	}

	batch := <-sink.tradeCh
	if batch[0].ID == "" {
		t.Error("missing trade id should be synthesized")
	}
	if batch[0].Side != types.SideBuy || batch[0].Symbol != "SOL" {
		t.Errorf("trade = %+v", batch[0])
	}
}

func TestAvantisPongIgnored(t *testing.T) {
	t.Parallel()
	sink := newTestSink(types.VenueAvantis)
	d := avantisDialect{}

	isData, err := d.parse([]byte(`{"op":"pong"}`), sink)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if isData {
		t.Error("pong must not count as data")
	}
}

func TestRawLevelShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		price string
		size  string
		ok    bool
	}{
		{"tuple strings", `["180.52","5"]`, "180.52", "5", true},
		{"tuple numbers", `[180.52, 5]`, "180.52", "5", true},
		{"px sz object", `{"px":"180.520","sz":"5"}`, "180.520", "5", true},
		{"price size object", `{"price":"180.52","size":"3"}`, "180.52", "3", true},
		{"price amount object", `{"price":"180.52","amount":"7"}`, "180.52", "7", true},
		{"short tuple", `["180.52"]`, "", "", false},
		{"missing size", `{"price":"180.52"}`, "", "", false},
		{"garbage", `"x"`, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l rawLevel
			err := l.UnmarshalJSON([]byte(tt.in))
			if tt.ok != (err == nil) {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
			if !tt.ok {
				return
			}
			if l.Price != tt.price || l.Size != tt.size {
				t.Errorf("got (%q, %q), want (%q, %q)", l.Price, l.Size, tt.price, tt.size)
			}
		})
	}
}

func TestAsterSymbol(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"btcusdt@depth20@100ms": "BTC",
		"ethusdt@aggTrade":      "ETH",
		"solusdt@depth@100ms":   "SOL",
	} {
		if got := asterSymbol(in); got != want {
			t.Errorf("asterSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
