package chart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"perpagg/internal/metrics"
	"perpagg/internal/store"
	"perpagg/pkg/types"
)

// maxBatchRetries bounds how often one failed batch is retried before it is
// dropped. Insertion is idempotent on (venue, symbol, timeframe, bucket), so
// a retried batch never double-counts.
const maxBatchRetries = 3

// Batcher buffers completed candles and drains them to cold storage in
// batches. A failed batch is re-queued at the head so ordering survives
// transient store trouble; a breaker stops hammering a down store.
type Batcher struct {
	mu      sync.Mutex
	pending []types.Candle
	retries int

	store    store.ColdStore
	size     int
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker

	logger *slog.Logger
}

// NewBatcher creates a batcher draining to cs every interval, size candles
// at a time.
func NewBatcher(cs store.ColdStore, size int, interval time.Duration, logger *slog.Logger) *Batcher {
	if size <= 0 {
		size = 100
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	log := logger.With("component", "candle_batcher")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cold_store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("cold store breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &Batcher{
		store:    cs,
		size:     size,
		interval: interval,
		breaker:  breaker,
		logger:   log,
	}
}

// Enqueue adds one completed candle to the buffer.
func (b *Batcher) Enqueue(c types.Candle) {
	b.mu.Lock()
	b.pending = append(b.pending, c)
	b.mu.Unlock()
}

// Run drains the buffer on the configured cadence until ctx is cancelled,
// then performs a final flush with a fresh short deadline.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			b.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			b.drain(ctx)
		}
	}
}

// Flush drains the buffer completely, used on shutdown.
func (b *Batcher) Flush(ctx context.Context) {
	for {
		b.mu.Lock()
		empty := len(b.pending) == 0
		b.mu.Unlock()
		if empty {
			return
		}
		if !b.drain(ctx) {
			return
		}
	}
}

// drain writes one batch. Returns false when the write failed or nothing
// was pending.
func (b *Batcher) drain(ctx context.Context) bool {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return false
	}
	n := len(b.pending)
	if n > b.size {
		n = b.size
	}
	batch := make([]types.Candle, n)
	copy(batch, b.pending[:n])
	b.pending = b.pending[n:]
	b.mu.Unlock()

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.store.InsertCandles(ctx, batch)
	})
	if err == nil {
		metrics.ColdStoreBatches.WithLabelValues("ok").Inc()
		b.mu.Lock()
		b.retries = 0
		b.mu.Unlock()
		return true
	}

	b.mu.Lock()
	b.retries++
	if b.retries > maxBatchRetries {
		b.retries = 0
		b.mu.Unlock()
		metrics.ColdStoreBatches.WithLabelValues("dropped").Inc()
		b.logger.Error("dropping candle batch after repeated failures", "batch", len(batch), "error", err)
		return false
	}
	// Head re-queue keeps the store's insert order close to completion order.
	b.pending = append(batch, b.pending...)
	b.mu.Unlock()

	metrics.ColdStoreBatches.WithLabelValues("retry").Inc()
	b.logger.Warn("candle batch write failed, re-queued", "batch", len(batch), "error", err)
	return false
}

// Pending reports the buffered candle count.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
