// avantis.go speaks the Avantis WebSocket protocol.
//
// Avantis topics are "orderbook.<SYMBOL>" plus a single global "allTrades"
// channel covering every symbol. Book frames carry an explicit
// snapshot/delta type; levels are {price, amount} objects. Trades sometimes
// arrive without an id, in which case the adapter synthesizes one so the
// per-venue uniqueness contract holds. Keepalive is {"op": "ping"}.
package venue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"perpagg/pkg/types"
)

type avantisDialect struct{}

// NewAvantis creates the Avantis adapter.
func NewAvantis(wsURL string, opts Options, logger *slog.Logger) Adapter {
	return newFeed(avantisDialect{}, wsURL, opts, logger)
}

func (avantisDialect) name() types.Venue { return types.VenueAvantis }

func (avantisDialect) subscribeMsgs(symbols []string) []interface{} {
	args := make([]string, 0, len(symbols)+1)
	for _, sym := range symbols {
		args = append(args, "orderbook."+sym)
	}
	if len(args) == 0 {
		return nil
	}
	args = append(args, "allTrades")
	return []interface{}{map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}}
}

func (avantisDialect) pingMsg() interface{} {
	return map[string]string{"op": "ping"}
}

type avantisEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "snapshot" or "delta" for book topics
	Data  json.RawMessage `json:"data"`
	Op    string          `json:"op"` // "pong", subscription acks
}

type avantisBook struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
	Ts   int64      `json:"ts"` // ms
}

type avantisTrade struct {
	ID     string      `json:"id"`
	Symbol string      `json:"symbol"`
	Price  json.Number `json:"price"`
	Amount json.Number `json:"amount"`
	Side   string      `json:"side"` // "buy" or "sell"
	Ts     int64       `json:"ts"`
}

func (d avantisDialect) parse(data []byte, sink *eventSink) (bool, error) {
	var env avantisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("envelope: %w", err)
	}

	if env.Op != "" {
		return false, nil // pong or ack
	}

	switch {
	case strings.HasPrefix(env.Topic, "orderbook."):
		sym := strings.TrimPrefix(env.Topic, "orderbook.")
		var book avantisBook
		if err := json.Unmarshal(env.Data, &book); err != nil {
			return false, fmt.Errorf("orderbook: %w", err)
		}
		switch env.Type {
		case "snapshot":
			sink.snapshot(types.Snapshot{
				Symbol:    sym,
				Bids:      toPriceLevels(book.Bids),
				Asks:      toPriceLevels(book.Asks),
				Timestamp: avantisTime(book.Ts),
			})
		case "delta":
			sink.delta(types.Delta{
				Symbol:    sym,
				Bids:      toPriceLevels(book.Bids),
				Asks:      toPriceLevels(book.Asks),
				Timestamp: avantisTime(book.Ts),
			})
		default:
			return false, fmt.Errorf("unknown book frame type %q", env.Type)
		}
		return true, nil

	case env.Topic == "allTrades":
		var raw []avantisTrade
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return false, fmt.Errorf("trades: %w", err)
		}
		batch := make([]types.Trade, 0, len(raw))
		for _, t := range raw {
			id := t.ID
			if id == "" {
				id = uuid.NewString()
			}
			side := types.SideSell
			if t.Side == "buy" {
				side = types.SideBuy
			}
			batch = append(batch, types.Trade{
				ID:        id,
				Symbol:    t.Symbol,
				Price:     t.Price.String(),
				Size:      t.Amount.String(),
				Side:      side,
				Timestamp: avantisTime(t.Ts),
			})
		}
		sink.trades(batch)
		return true, nil

	default:
		return false, fmt.Errorf("unknown topic %q", env.Topic)
	}
}

func avantisTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
