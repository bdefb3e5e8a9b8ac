// Package bus implements the in-process publish/subscribe fan-out used by
// every engine to emit downstream events.
//
// Channels are string keys like "orderbook.hyperliquid.BTC" or
// "aggregated.book.ETH". Publish is fire-and-forget with at-most-once
// delivery: each subscriber owns a buffered channel, and a subscriber that
// cannot keep up has events dropped rather than blocking the publisher.
// Delivery never re-enters an engine synchronously: the publisher only ever
// performs a non-blocking channel send.
package bus

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON payload shape delivered to subscribers.
type Envelope struct {
	Channel   string      `json:"channel"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription is a live registration on the bus. Events arrive on C.
type Subscription struct {
	id      string
	pattern string
	C       chan Envelope
}

// Pattern returns the channel pattern this subscription was created with.
func (s *Subscription) Pattern() string { return s.pattern }

// Bus is the publish/subscribe hub. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription // id → subscription
	closed bool

	dropped atomic.Uint64 // events dropped due to full subscriber buffers
	logger  *slog.Logger
}

// DefaultBuffer is the per-subscriber channel depth used by Subscribe.
const DefaultBuffer = 256

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]*Subscription),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers for all events whose channel matches pattern.
// A pattern ending in "." is a prefix match ("orderbook." receives every
// per-venue book channel); anything else is an exact match. The special
// pattern "*" matches everything.
func (b *Bus) Subscribe(pattern string) *Subscription {
	return b.SubscribeBuffered(pattern, DefaultBuffer)
}

// SubscribeBuffered is Subscribe with an explicit buffer depth.
func (b *Bus) SubscribeBuffered(pattern string, buffer int) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		C:       make(chan Envelope, buffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.C)
		return sub
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.C)
	}
}

// Publish delivers data to every matching subscriber. It never blocks: a
// subscriber with a full buffer misses this event.
func (b *Bus) Publish(channel string, data interface{}) {
	env := Envelope{Channel: channel, Data: data, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !Matches(sub.pattern, channel) {
			continue
		}
		select {
		case sub.C <- env:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber buffer full, dropping event",
				"channel", channel, "pattern", sub.pattern)
		}
	}
}

// Dropped returns how many events have been dropped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close tears down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.C)
	}
}

// Matches reports whether channel falls under pattern, using the same rules
// as Subscribe.
func Matches(pattern, channel string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".") {
		return strings.HasPrefix(channel, pattern)
	}
	return pattern == channel
}

// ————————————————————————————————————————————————————————————————————————
// Channel name helpers
// ————————————————————————————————————————————————————————————————————————

// OrderbookChannel names the per-venue book stream.
func OrderbookChannel(venue, symbol string) string {
	return "orderbook." + venue + "." + symbol
}

// TradesChannel names the per-venue trade stream.
func TradesChannel(venue, symbol string) string {
	return "trades." + venue + "." + symbol
}

// CandlesChannel names the per-venue candle stream.
func CandlesChannel(venue, symbol, timeframe string) string {
	return "candles." + venue + "." + symbol + "." + timeframe
}

// AggregatedBookChannel names the consolidated book stream.
func AggregatedBookChannel(symbol string) string {
	return "aggregated.book." + symbol
}

// RoutingChannel names the routing-only stream.
func RoutingChannel(symbol string) string {
	return "agg.routing." + symbol
}
