// hyperliquid.go speaks the Hyperliquid WebSocket protocol.
//
// Hyperliquid pushes full l2Book snapshots (no deltas) with levels as
// {px, sz, n} objects: levels[0] is the bid side, levels[1] the ask side.
// Trades arrive in batches on a per-coin trades channel with side "B"
// (aggressive buy) or "A" (aggressive sell). Keepalive is an application
// {"method": "ping"} answered by a "pong" channel frame.
package venue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"perpagg/pkg/types"
)

type hyperliquidDialect struct{}

// NewHyperliquid creates the Hyperliquid adapter.
func NewHyperliquid(wsURL string, opts Options, logger *slog.Logger) Adapter {
	return newFeed(hyperliquidDialect{}, wsURL, opts, logger)
}

func (hyperliquidDialect) name() types.Venue { return types.VenueHyperliquid }

type hlSubscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type hlRequest struct {
	Method       string         `json:"method"`
	Subscription hlSubscription `json:"subscription,omitempty"`
}

func (hyperliquidDialect) subscribeMsgs(symbols []string) []interface{} {
	msgs := make([]interface{}, 0, 2*len(symbols))
	for _, sym := range symbols {
		msgs = append(msgs,
			hlRequest{Method: "subscribe", Subscription: hlSubscription{Type: "l2Book", Coin: sym}},
			hlRequest{Method: "subscribe", Subscription: hlSubscription{Type: "trades", Coin: sym}},
		)
	}
	return msgs
}

func (hyperliquidDialect) pingMsg() interface{} {
	return map[string]string{"method": "ping"}
}

type hlEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hlBook struct {
	Coin   string       `json:"coin"`
	Time   int64        `json:"time"` // ms
	Levels [][]rawLevel `json:"levels"`
}

type hlTrade struct {
	Coin string      `json:"coin"`
	Side string      `json:"side"` // "B" or "A"
	Px   json.Number `json:"px"`
	Sz   json.Number `json:"sz"`
	Time int64       `json:"time"` // ms
	TID  int64       `json:"tid"`
}

func (d hyperliquidDialect) parse(data []byte, sink *eventSink) (bool, error) {
	var env hlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("envelope: %w", err)
	}

	switch env.Channel {
	case "l2Book":
		var book hlBook
		if err := json.Unmarshal(env.Data, &book); err != nil {
			return false, fmt.Errorf("l2Book: %w", err)
		}
		if len(book.Levels) != 2 {
			return false, fmt.Errorf("l2Book has %d sides, want 2", len(book.Levels))
		}
		sink.snapshot(types.Snapshot{
			Symbol:    book.Coin,
			Bids:      toPriceLevels(book.Levels[0]),
			Asks:      toPriceLevels(book.Levels[1]),
			Timestamp: time.UnixMilli(book.Time),
		})
		return true, nil

	case "trades":
		var raw []hlTrade
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return false, fmt.Errorf("trades: %w", err)
		}
		batch := make([]types.Trade, 0, len(raw))
		for _, t := range raw {
			side := types.SideSell
			if t.Side == "B" {
				side = types.SideBuy
			}
			batch = append(batch, types.Trade{
				ID:        strconv.FormatInt(t.TID, 10),
				Symbol:    t.Coin,
				Price:     t.Px.String(),
				Size:      t.Sz.String(),
				Side:      side,
				Timestamp: time.UnixMilli(t.Time),
			})
		}
		sink.trades(batch)
		return true, nil

	case "pong", "subscriptionResponse":
		return false, nil

	default:
		// Informational channels we don't consume.
		return false, nil
	}
}
