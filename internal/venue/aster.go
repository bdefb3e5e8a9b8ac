// aster.go speaks the Aster perpetual-futures WebSocket protocol.
//
// Aster uses Binance-style combined streams: levels are [price, size]
// tuples, "<sym>usdt@depth20" pushes top-of-book snapshots,
// "<sym>usdt@depth" pushes depthUpdate deltas carrying the venue sequence
// "u", and "<sym>usdt@aggTrade" pushes individual trades. Aster is the only
// venue that provides a wire sequence number, forwarded verbatim. Keepalive
// is a WebSocket control ping.
package venue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"perpagg/pkg/types"
)

type asterDialect struct {
	reqID atomic.Int64
}

// NewAster creates the Aster adapter.
func NewAster(wsURL string, opts Options, logger *slog.Logger) Adapter {
	return newFeed(&asterDialect{}, wsURL, opts, logger)
}

func (*asterDialect) name() types.Venue { return types.VenueAster }

func (d *asterDialect) subscribeMsgs(symbols []string) []interface{} {
	params := make([]string, 0, 3*len(symbols))
	for _, sym := range symbols {
		stream := strings.ToLower(sym) + "usdt"
		params = append(params,
			stream+"@depth20@100ms",
			stream+"@depth@100ms",
			stream+"@aggTrade",
		)
	}
	if len(params) == 0 {
		return nil
	}
	return []interface{}{map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     d.reqID.Add(1),
	}}
}

// Aster expects WebSocket control pings, not an application payload.
func (*asterDialect) pingMsg() interface{} { return nil }

type asterEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	// Subscription acks arrive outside the stream envelope.
	Result json.RawMessage `json:"result"`
	ID     int64           `json:"id"`
}

type asterDepthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         []rawLevel `json:"bids"`
	Asks         []rawLevel `json:"asks"`
	EventTime    int64      `json:"E"`
}

type asterDepthUpdate struct {
	EventType string     `json:"e"` // "depthUpdate"
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FinalID   uint64     `json:"u"`
	Bids      []rawLevel `json:"b"`
	Asks      []rawLevel `json:"a"`
}

type asterAggTrade struct {
	EventType    string      `json:"e"` // "aggTrade"
	Symbol       string      `json:"s"`
	TradeID      int64       `json:"a"`
	Price        json.Number `json:"p"`
	Quantity     json.Number `json:"q"`
	TradeTime    int64       `json:"T"`
	BuyerIsMaker bool        `json:"m"`
}

func (d *asterDialect) parse(data []byte, sink *eventSink) (bool, error) {
	var env asterEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("envelope: %w", err)
	}
	if env.Stream == "" {
		return false, nil // subscription ack
	}

	sym := asterSymbol(env.Stream)

	switch {
	case strings.Contains(env.Stream, "@depth20"):
		var snap asterDepthSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return false, fmt.Errorf("depth snapshot: %w", err)
		}
		sink.snapshot(types.Snapshot{
			Symbol:    sym,
			Bids:      toPriceLevels(snap.Bids),
			Asks:      toPriceLevels(snap.Asks),
			Sequence:  snap.LastUpdateID,
			Timestamp: asterTime(snap.EventTime),
		})
		return true, nil

	case strings.Contains(env.Stream, "@depth"):
		var upd asterDepthUpdate
		if err := json.Unmarshal(env.Data, &upd); err != nil {
			return false, fmt.Errorf("depth update: %w", err)
		}
		sink.delta(types.Delta{
			Symbol:    sym,
			Bids:      toPriceLevels(upd.Bids),
			Asks:      toPriceLevels(upd.Asks),
			Sequence:  upd.FinalID,
			Timestamp: asterTime(upd.EventTime),
		})
		return true, nil

	case strings.Contains(env.Stream, "@aggTrade"):
		var t asterAggTrade
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return false, fmt.Errorf("aggTrade: %w", err)
		}
		side := types.SideBuy
		if t.BuyerIsMaker { // maker bought ⇒ aggressor sold
			side = types.SideSell
		}
		sink.trades([]types.Trade{{
			ID:        strconv.FormatInt(t.TradeID, 10),
			Symbol:    sym,
			Price:     t.Price.String(),
			Size:      t.Quantity.String(),
			Side:      side,
			Timestamp: asterTime(t.TradeTime),
		}})
		return true, nil

	default:
		return false, fmt.Errorf("unknown stream %q", env.Stream)
	}
}

// asterSymbol recovers the normalized symbol from a stream name like
// "btcusdt@depth20@100ms".
func asterSymbol(stream string) string {
	name := stream
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, "usdt")
	return strings.ToUpper(name)
}

func asterTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
