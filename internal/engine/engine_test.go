package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"perpagg/internal/agg"
	"perpagg/internal/book"
	"perpagg/internal/bus"
	"perpagg/internal/cache"
	"perpagg/internal/chart"
	"perpagg/internal/trade"
	"perpagg/internal/venue"
	"perpagg/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// orderLog records shutdown-path events in the order they happen.
type orderLog struct {
	mu     sync.Mutex
	events []string
}

func (l *orderLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *orderLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.events {
		if got == e {
			return i
		}
	}
	return -1
}

type recordingStore struct {
	log *orderLog

	mu      sync.Mutex
	candles []types.Candle
}

func (s *recordingStore) InsertCandles(_ context.Context, cs []types.Candle) error {
	s.log.add("flush")
	s.mu.Lock()
	s.candles = append(s.candles, cs...)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Candles(context.Context, types.Venue, string, types.Timeframe, time.Time, time.Time, int) ([]types.Candle, error) {
	return nil, nil
}

func (s *recordingStore) Close() error { return nil }

type recordingAdapter struct {
	log *orderLog
}

func (a *recordingAdapter) Name() types.Venue { return types.VenueHyperliquid }

func (a *recordingAdapter) Connect(context.Context) error { return nil }

func (a *recordingAdapter) Subscribe(context.Context, []string) error { return nil }

func (a *recordingAdapter) Disconnect() error {
	a.log.add("disconnect")
	return nil
}

func (a *recordingAdapter) Snapshots() <-chan types.Snapshot { return nil }

func (a *recordingAdapter) Deltas() <-chan types.Delta { return nil }

func (a *recordingAdapter) Trades() <-chan []types.Trade { return nil }

func (a *recordingAdapter) Status() <-chan types.VenueStatus { return nil }

func TestStopFlushesFinalCandlesBeforeClosingVenues(t *testing.T) {
	t.Parallel()

	log := &orderLog{}
	st := &recordingStore{log: log}
	b := bus.New(testLogger())
	mem := cache.NewMemory()

	batcher := chart.NewBatcher(st, 100, time.Hour, testLogger())
	charts := chart.New(b, mem, time.Minute, batcher, testLogger())
	aggCharts := chart.NewAggregatedEngine(b, testLogger())

	e := &Engine{
		logger:    testLogger(),
		bus:       b,
		cache:     mem,
		cold:      st,
		adapters:  []venue.Adapter{&recordingAdapter{log: log}},
		books:     book.New(b, mem, time.Minute, time.Minute, testLogger()),
		trades:    trade.New(b, mem, time.Minute, 10, 2, testLogger()),
		charts:    charts,
		aggCharts: aggCharts,
		aggs:      agg.New(b, mem, 0, 50, time.Minute, time.Second, testLogger()),
		batcher:   batcher,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	// An in-flight candle per timeframe that only the shutdown path can
	// complete and persist.
	charts.ProcessTickData(e.ctx, types.TickData{
		Symbol:    "BTC",
		Venue:     types.VenueHyperliquid,
		Price:     "100",
		Size:      "1",
		Timestamp: time.Now(),
	})

	e.Stop()

	flushIdx := log.index("flush")
	discIdx := log.index("disconnect")
	if flushIdx == -1 {
		t.Fatal("final candles never reached the cold store")
	}
	if discIdx == -1 {
		t.Fatal("adapter was never disconnected")
	}
	if flushIdx > discIdx {
		t.Errorf("venues closed before the final flush: %v", log.events)
	}

	st.mu.Lock()
	n := len(st.candles)
	st.mu.Unlock()
	if n != len(types.AllTimeframes()) {
		t.Errorf("flushed %d candles, want one per timeframe (%d)", n, len(types.AllTimeframes()))
	}
}
