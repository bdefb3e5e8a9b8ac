// Package venue turns raw venue WebSocket feeds into normalized events.
//
// Each supported venue gets one Adapter. The transport layer (dial,
// heartbeat, reconnect with exponential backoff, re-subscription) is shared
// by all venues in feed.go; the per-venue wire protocol lives in a dialect
// (hyperliquid.go, aster.go, lighter.go, avantis.go). Dialects coerce the
// venues' heterogeneous level shapes ({px, sz} objects vs [price, size]
// tuples) into the normalized PriceLevel form.
//
// Failure semantics: a parse error for a single message is logged, counted,
// and dropped; it never tears down the socket. Socket-level failures
// trigger reconnect; the attempt counter resets on the first successfully
// processed data message, not merely on socket open.
package venue

import (
	"context"
	"time"

	"perpagg/pkg/types"
)

// Adapter is the public contract of a venue feed. Connect blocks until the
// first successful connection (or until the reconnect policy is exhausted),
// Subscribe is idempotent and survives reconnects, Disconnect stops the
// heartbeat and closes the socket.
type Adapter interface {
	Name() types.Venue
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Disconnect() error

	// Typed event channels. Consumers must drain them; the feed drops
	// events on full buffers rather than blocking the read loop.
	Snapshots() <-chan types.Snapshot
	Deltas() <-chan types.Delta
	Trades() <-chan []types.Trade
	Status() <-chan types.VenueStatus
}

// Options carries the transport tuning shared by all adapters.
type Options struct {
	HeartbeatInterval    time.Duration // ping cadence; 2× is the silence cutoff
	ReconnectInitial     time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int // 0 = unlimited
}

// withDefaults fills zero fields with the documented defaults.
func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = 5 * time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 60 * time.Second
	}
	return o
}

// dialect is the per-venue protocol: subscription payloads, keepalive shape,
// and message parsing. parse emits normalized events through the sink and
// returns an error only for messages it could not understand (the feed logs
// and drops those).
type dialect interface {
	name() types.Venue
	// subscribeMsgs returns the JSON payloads that subscribe the given
	// symbols to the book and trades channels.
	subscribeMsgs(symbols []string) []interface{}
	// pingMsg returns the venue's application-level keepalive payload, or
	// nil when the venue uses WebSocket control pings.
	pingMsg() interface{}
	// parse handles one raw frame. isData reports whether the frame carried
	// market data (used to reset the reconnect counter); pongs and acks
	// return false.
	parse(data []byte, sink *eventSink) (isData bool, err error)
}
