package chart

import (
	"context"
	"errors"
	"testing"
	"time"

	"perpagg/pkg/types"
)

// fakeStore counts inserts and can be told to fail.
type fakeStore struct {
	fail     bool
	inserted [][]types.Candle
}

func (s *fakeStore) InsertCandles(_ context.Context, candles []types.Candle) error {
	if s.fail {
		return errors.New("store down")
	}
	s.inserted = append(s.inserted, candles)
	return nil
}

func (s *fakeStore) Candles(context.Context, types.Venue, string, types.Timeframe, time.Time, time.Time, int) ([]types.Candle, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func candleN(i int) types.Candle {
	return types.Candle{
		Symbol:    "BTC",
		Venue:     types.VenueHyperliquid,
		Timeframe: types.TF1m,
		Timestamp: int64(i) * 60_000,
	}
}

func TestBatcherDrainsInBatchSizeChunks(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	b := NewBatcher(st, 3, time.Second, testLogger())

	for i := 0; i < 7; i++ {
		b.Enqueue(candleN(i))
	}
	b.Flush(context.Background())

	if len(st.inserted) != 3 {
		t.Fatalf("got %d batches, want 3", len(st.inserted))
	}
	if len(st.inserted[0]) != 3 || len(st.inserted[2]) != 1 {
		t.Errorf("batch sizes = %d/%d/%d, want 3/3/1",
			len(st.inserted[0]), len(st.inserted[1]), len(st.inserted[2]))
	}
	if st.inserted[0][0].Timestamp != 0 {
		t.Error("insert order does not follow completion order")
	}
	if b.Pending() != 0 {
		t.Errorf("%d candles still pending after flush", b.Pending())
	}
}

func TestBatcherRequeuesFailedBatchAtHead(t *testing.T) {
	t.Parallel()
	st := &fakeStore{fail: true}
	b := NewBatcher(st, 2, time.Second, testLogger())

	b.Enqueue(candleN(0))
	b.Enqueue(candleN(1))
	b.Enqueue(candleN(2))

	if b.drain(context.Background()) {
		t.Fatal("drain should report failure")
	}
	if b.Pending() != 3 {
		t.Fatalf("pending = %d after failed drain, want 3", b.Pending())
	}

	// Store recovers; the re-queued batch keeps its original order.
	st.fail = false
	b.Flush(context.Background())
	if len(st.inserted) != 2 {
		t.Fatalf("got %d batches, want 2", len(st.inserted))
	}
	if st.inserted[0][0].Timestamp != 0 || st.inserted[0][1].Timestamp != 60_000 {
		t.Errorf("head re-queue lost ordering: %+v", st.inserted[0])
	}
}

func TestBatcherDropsBatchAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	st := &fakeStore{fail: true}
	b := NewBatcher(st, 2, time.Second, testLogger())

	b.Enqueue(candleN(0))
	for i := 0; i <= maxBatchRetries; i++ {
		b.drain(context.Background())
	}

	if b.Pending() != 0 {
		t.Errorf("pending = %d, want 0 after the batch is dropped", b.Pending())
	}
}
