package types

import (
	"testing"
	"time"
)

func TestAllVenuesOrder(t *testing.T) {
	t.Parallel()
	want := []Venue{VenueHyperliquid, VenueAster, VenueLighter, VenueAvantis}
	got := AllVenues()
	if len(got) != len(want) {
		t.Fatalf("got %d venues, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("venue[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestTimeframeDurations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tf   Timeframe
		want time.Duration
	}{
		{TF1s, time.Second},
		{TF1m, time.Minute},
		{TF5m, 5 * time.Minute},
		{TF15m, 15 * time.Minute},
		{TF1h, time.Hour},
		{TF4h, 4 * time.Hour},
		{TF1d, 24 * time.Hour},
		{Timeframe("bogus"), 0},
	}
	for _, tt := range tests {
		if got := tt.tf.Duration(); got != tt.want {
			t.Errorf("%s.Duration() = %v, want %v", tt.tf, got, tt.want)
		}
	}
	if got := TF5m.Millis(); got != 300_000 {
		t.Errorf("TF5m.Millis() = %d, want 300000", got)
	}
}

func TestBucketStart(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 8, 24, 13, 47, 23, 500_000_000, time.UTC).UnixMilli()

	tests := []struct {
		tf   Timeframe
		want time.Time
	}{
		{TF1s, time.Date(2026, 8, 24, 13, 47, 23, 0, time.UTC)},
		{TF1m, time.Date(2026, 8, 24, 13, 47, 0, 0, time.UTC)},
		{TF15m, time.Date(2026, 8, 24, 13, 45, 0, 0, time.UTC)},
		{TF1h, time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC)},
		{TF4h, time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)},
		{TF1d, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := tt.tf.BucketStart(ts); got != tt.want.UnixMilli() {
			t.Errorf("%s.BucketStart = %d, want %d", tt.tf, got, tt.want.UnixMilli())
		}
	}

	// A timestamp already on the boundary maps to itself.
	onBoundary := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC).UnixMilli()
	if got := TF1h.BucketStart(onBoundary); got != onBoundary {
		t.Errorf("boundary BucketStart = %d, want %d", got, onBoundary)
	}
}

func TestIsSynthetic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		size string
		want bool
	}{
		{"", true},
		{"0", true},
		{"0.0", true},
		{"1", false},
		{"0.5", false},
	}
	for _, tt := range tests {
		tick := TickData{Size: tt.size}
		if got := tick.IsSynthetic(); got != tt.want {
			t.Errorf("IsSynthetic(size=%q) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestFloatHelpers(t *testing.T) {
	t.Parallel()
	lvl := PriceLevel{Price: "64000.5", Size: "0.25"}
	if lvl.PriceFloat() != 64000.5 || lvl.SizeFloat() != 0.25 {
		t.Errorf("level floats = %v/%v", lvl.PriceFloat(), lvl.SizeFloat())
	}

	tr := Trade{Price: "101.25", Size: "3"}
	if tr.PriceFloat() != 101.25 || tr.SizeFloat() != 3 {
		t.Errorf("trade floats = %v/%v", tr.PriceFloat(), tr.SizeFloat())
	}

	// Unparseable strings come back as zero, never panic.
	bad := PriceLevel{Price: "n/a", Size: ""}
	if bad.PriceFloat() != 0 || bad.SizeFloat() != 0 {
		t.Errorf("bad floats = %v/%v", bad.PriceFloat(), bad.SizeFloat())
	}
}

func TestOrderbookBestAndTicker(t *testing.T) {
	t.Parallel()
	ob := Orderbook{
		Venue:  VenueAster,
		Symbol: "ETH",
		Bids: []PriceLevel{
			{Price: "3000.5", Size: "2"},
			{Price: "3000.0", Size: "1"},
		},
		Asks: []PriceLevel{
			{Price: "3001.0", Size: "4"},
			{Price: "3002.0", Size: "1"},
		},
	}

	if got := ob.BestBid(); got != 3000.5 {
		t.Errorf("BestBid = %v", got)
	}
	if got := ob.BestAsk(); got != 3001.0 {
		t.Errorf("BestAsk = %v", got)
	}

	tk := ob.Ticker()
	if tk.Venue != VenueAster || tk.Symbol != "ETH" {
		t.Errorf("ticker identity = %+v", tk)
	}
	if tk.BestBid != 3000.5 || tk.BestAsk != 3001.0 {
		t.Errorf("ticker quotes = %v / %v", tk.BestBid, tk.BestAsk)
	}
}

func TestOrderbookEmptySides(t *testing.T) {
	t.Parallel()
	var ob Orderbook
	if ob.BestBid() != 0 || ob.BestAsk() != 0 {
		t.Errorf("empty book best = %v/%v", ob.BestBid(), ob.BestAsk())
	}
}
