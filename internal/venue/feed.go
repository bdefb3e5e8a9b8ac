// feed.go implements the WebSocket transport shared by all venue adapters.
//
// One feed owns one persistent connection. It handles connection lifecycle,
// subscription tracking, heartbeat, message routing into typed channels, and
// automatic reconnection with exponential backoff (5s → 60s cap, unlimited
// attempts by default). On reconnect the remembered symbol set is
// re-subscribed before the adapter reports itself connected. A read deadline
// of 2× the heartbeat interval ensures silent server failures are detected.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"perpagg/internal/metrics"
	"perpagg/pkg/types"
)

const (
	writeTimeout    = 10 * time.Second // deadline for outgoing messages
	snapshotBufSize = 256              // buffer for snapshot/delta events
	tradeBufSize    = 256              // buffer for trade batches
	statusBufSize   = 16               // buffer for lifecycle events
)

// feed manages a single venue WebSocket connection and implements Adapter
// together with a dialect.
type feed struct {
	dialect dialect
	url     string
	opts    Options

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect.
	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	sink *eventSink

	// dataSeen flips when a data message is processed on the current
	// connection; it gates the reconnect counter reset.
	dataSeen atomic.Bool

	runCtx    context.Context
	runCancel context.CancelFunc
	started   atomic.Bool
	firstConn chan error // closed-ish: receives the first connect outcome once
	wg        sync.WaitGroup

	logger *slog.Logger
}

// newFeed wires a dialect to the shared transport.
func newFeed(d dialect, url string, opts Options, logger *slog.Logger) *feed {
	name := string(d.name())
	f := &feed{
		dialect:    d,
		url:        url,
		opts:       opts.withDefaults(),
		subscribed: make(map[string]bool),
		firstConn:  make(chan error, 1),
		logger:     logger.With("component", "feed", "venue", name),
	}
	f.sink = newEventSink(d.name(), f.logger)
	return f
}

func (f *feed) Name() types.Venue { return f.dialect.name() }

func (f *feed) Snapshots() <-chan types.Snapshot { return f.sink.snapCh }
func (f *feed) Deltas() <-chan types.Delta       { return f.sink.deltaCh }
func (f *feed) Trades() <-chan []types.Trade     { return f.sink.tradeCh }
func (f *feed) Status() <-chan types.VenueStatus { return f.sink.statusCh }

// Connect starts the connection maintenance loop and blocks until the feed
// is connected for the first time. It fails only when the reconnect policy
// is exhausted (or ctx is cancelled).
func (f *feed) Connect(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return nil // already running
	}

	f.runCtx, f.runCancel = context.WithCancel(context.Background())
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(f.runCtx)
	}()

	select {
	case err := <-f.firstConn:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe records symbols and requests their book and trades channels.
// Idempotent; the remembered set is replayed on every reconnect.
func (f *feed) Subscribe(_ context.Context, symbols []string) error {
	fresh := make([]string, 0, len(symbols))
	f.subscribedMu.Lock()
	for _, s := range symbols {
		if !f.subscribed[s] {
			f.subscribed[s] = true
		}
		fresh = append(fresh, s)
	}
	f.subscribedMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	for _, msg := range f.dialect.subscribeMsgs(fresh) {
		if err := f.writeJSON(msg); err != nil {
			// Not connected yet (or the write failed mid-payload); the
			// remembered set is replayed in full on (re)connect.
			f.logger.Debug("subscribe write deferred to reconnect replay", "error", err)
			return nil
		}
	}
	return nil
}

// Disconnect terminates the heartbeat, closes the socket, and drops the
// subscription set.
func (f *feed) Disconnect() error {
	if f.runCancel != nil {
		f.runCancel()
	}

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()

	f.subscribedMu.Lock()
	f.subscribed = make(map[string]bool)
	f.subscribedMu.Unlock()
	return nil
}

// run maintains the connection until ctx is cancelled or the reconnect
// policy is exhausted.
func (f *feed) run(ctx context.Context) {
	backoff := f.opts.ReconnectInitial
	attempts := 0

	for {
		f.dataSeen.Store(false)
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			f.sink.status(types.StatusDisconnected, "shutdown", "")
			return
		}

		// The counter resets only once real data flowed, so a venue that
		// accepts the socket but never speaks still exhausts the policy.
		if f.dataSeen.Load() {
			attempts = 0
			backoff = f.opts.ReconnectInitial
		}
		attempts++
		metrics.Reconnects.WithLabelValues(string(f.Name())).Inc()

		f.sink.status(types.StatusDisconnected, "read_error", errString(err))

		if f.opts.MaxReconnectAttempts > 0 && attempts > f.opts.MaxReconnectAttempts {
			f.logger.Error("reconnect attempts exhausted", "attempts", attempts-1)
			f.sink.status(types.StatusError, "reconnect_exhausted", errString(err))
			f.firstConnResult(fmt.Errorf("reconnect attempts exhausted: %w", err))
			return
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
			"attempt", attempts,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		// Exponential backoff: 5s, 10s, 20s, 40s, 60s cap.
		backoff *= 2
		if backoff > f.opts.ReconnectMax {
			backoff = f.opts.ReconnectMax
		}
	}
}

func (f *feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	readTimeout := 2 * f.opts.HeartbeatInterval
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Re-subscribe before declaring ourselves connected.
	if err := f.sendSubscriptions(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "url", f.url)
	f.sink.status(types.StatusConnected, "", "")
	// Unblocks Connect no matter how many failed attempts preceded this
	// connection; later successes are no-ops on the buffered channel.
	f.firstConnResult(nil)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.heartbeatLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		isData, perr := f.dialect.parse(msg, f.sink)
		if perr != nil {
			// Single-message failures never tear down the socket.
			metrics.ParseErrors.WithLabelValues(string(f.Name()), "protocol").Inc()
			f.logger.Debug("dropping unparseable message", "error", perr)
			continue
		}
		if isData {
			f.dataSeen.Store(true)
			metrics.MessagesParsed.WithLabelValues(string(f.Name())).Inc()
		}
	}
}

func (f *feed) sendSubscriptions() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.subscribedMu.RUnlock()

	for _, msg := range f.dialect.subscribeMsgs(symbols) {
		if err := f.writeJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// heartbeatLoop sends the venue-appropriate keepalive every interval. A
// venue without an application-level ping gets a WebSocket control ping.
func (f *feed) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(f.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if msg := f.dialect.pingMsg(); msg != nil {
				err = f.writeJSON(msg)
			} else {
				err = f.writeMessage(websocket.PingMessage, nil)
			}
			if err != nil {
				f.logger.Warn("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (f *feed) firstConnResult(err error) {
	select {
	case f.firstConn <- err:
	default:
	}
}

func (f *feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ————————————————————————————————————————————————————————————————————————
// Event sink
// ————————————————————————————————————————————————————————————————————————

// eventSink fans parsed events into the typed channels consumers read.
// Sends are non-blocking: a full buffer drops the event with a warning so
// the read loop is never stalled by a slow consumer. It also assigns a local
// monotonic sequence to snapshots and deltas from venues that provide none.
type eventSink struct {
	venue    types.Venue
	snapCh   chan types.Snapshot
	deltaCh  chan types.Delta
	tradeCh  chan []types.Trade
	statusCh chan types.VenueStatus

	localSeq atomic.Uint64
	logger   *slog.Logger
}

func newEventSink(v types.Venue, logger *slog.Logger) *eventSink {
	return &eventSink{
		venue:    v,
		snapCh:   make(chan types.Snapshot, snapshotBufSize),
		deltaCh:  make(chan types.Delta, snapshotBufSize),
		tradeCh:  make(chan []types.Trade, tradeBufSize),
		statusCh: make(chan types.VenueStatus, statusBufSize),
		logger:   logger,
	}
}

func (s *eventSink) nextSeq() uint64 { return s.localSeq.Add(1) }

func (s *eventSink) snapshot(snap types.Snapshot) {
	snap.Venue = s.venue
	if snap.Sequence == 0 {
		snap.Sequence = s.nextSeq()
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	select {
	case s.snapCh <- snap:
	default:
		s.logger.Warn("snapshot channel full, dropping event", "symbol", snap.Symbol)
	}
}

func (s *eventSink) delta(d types.Delta) {
	d.Venue = s.venue
	if d.Sequence == 0 {
		d.Sequence = s.nextSeq()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	select {
	case s.deltaCh <- d:
	default:
		s.logger.Warn("delta channel full, dropping event", "symbol", d.Symbol)
	}
}

func (s *eventSink) trades(batch []types.Trade) {
	if len(batch) == 0 {
		return
	}
	for i := range batch {
		batch[i].Venue = s.venue
		if batch[i].Timestamp.IsZero() {
			batch[i].Timestamp = time.Now()
		}
	}
	select {
	case s.tradeCh <- batch:
	default:
		s.logger.Warn("trade channel full, dropping batch", "symbol", batch[0].Symbol, "n", len(batch))
	}
}

func (s *eventSink) status(kind types.VenueStatusKind, reason, detail string) {
	evt := types.VenueStatus{
		Venue:     s.venue,
		Kind:      kind,
		Reason:    reason,
		Detail:    detail,
		Timestamp: time.Now(),
	}
	select {
	case s.statusCh <- evt:
	default:
	}
}
