// lighter.go speaks the Lighter WebSocket protocol.
//
// Lighter keys its channels by numeric order-book id rather than symbol, so
// the adapter needs the instrument metadata map (see meta.go) to translate
// both ways. Books arrive as a "subscribed/order_book" snapshot followed by
// "update/order_book" deltas; levels are {price, size} objects. Keepalive is
// an application {"type": "ping"}.
package venue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"perpagg/pkg/types"
)

// MarketMap is the symbol ↔ order-book-id translation shared between the
// Lighter dialect and the metadata refresher. Safe for concurrent use.
type MarketMap struct {
	mu       sync.RWMutex
	bySymbol map[string]int
	byID     map[int]string
}

// NewMarketMap creates an empty map.
func NewMarketMap() *MarketMap {
	return &MarketMap{
		bySymbol: make(map[string]int),
		byID:     make(map[int]string),
	}
}

// Replace swaps in a freshly fetched symbol → id mapping.
func (m *MarketMap) Replace(bySymbol map[string]int) {
	byID := make(map[int]string, len(bySymbol))
	for sym, id := range bySymbol {
		byID[id] = sym
	}
	m.mu.Lock()
	m.bySymbol = bySymbol
	m.byID = byID
	m.mu.Unlock()
}

// ID resolves a symbol to its order-book id.
func (m *MarketMap) ID(symbol string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySymbol[symbol]
	return id, ok
}

// Symbol resolves an order-book id to its symbol.
func (m *MarketMap) Symbol(id int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sym, ok := m.byID[id]
	return sym, ok
}

type lighterDialect struct {
	markets *MarketMap
}

// NewLighter creates the Lighter adapter. markets must be kept fresh by the
// metadata refresher; symbols without a mapping are skipped at subscribe
// time and picked up on the next reconnect.
func NewLighter(wsURL string, markets *MarketMap, opts Options, logger *slog.Logger) Adapter {
	return newFeed(&lighterDialect{markets: markets}, wsURL, opts, logger)
}

func (*lighterDialect) name() types.Venue { return types.VenueLighter }

func (d *lighterDialect) subscribeMsgs(symbols []string) []interface{} {
	msgs := make([]interface{}, 0, 2*len(symbols))
	for _, sym := range symbols {
		id, ok := d.markets.ID(sym)
		if !ok {
			continue
		}
		msgs = append(msgs,
			map[string]string{"type": "subscribe", "channel": fmt.Sprintf("order_book/%d", id)},
			map[string]string{"type": "subscribe", "channel": fmt.Sprintf("trade/%d", id)},
		)
	}
	return msgs
}

func (*lighterDialect) pingMsg() interface{} {
	return map[string]string{"type": "ping"}
}

type lighterEnvelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"` // "order_book:3" / "trade:3"
	OrderBook json.RawMessage `json:"order_book"`
	Trades    json.RawMessage `json:"trades"`
}

type lighterBook struct {
	Bids   []rawLevel `json:"bids"`
	Asks   []rawLevel `json:"asks"`
	Offset uint64     `json:"offset"`
}

type lighterTrade struct {
	TradeID    int64       `json:"trade_id"`
	Price      json.Number `json:"price"`
	Size       json.Number `json:"size"`
	IsMakerAsk bool        `json:"is_maker_ask"`
	Timestamp  int64       `json:"timestamp"` // ms
}

func (d *lighterDialect) parse(data []byte, sink *eventSink) (bool, error) {
	var env lighterEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("envelope: %w", err)
	}

	switch env.Type {
	case "subscribed/order_book", "update/order_book":
		sym, ok := d.channelSymbol(env.Channel)
		if !ok {
			return false, fmt.Errorf("unknown order book channel %q", env.Channel)
		}
		var book lighterBook
		if err := json.Unmarshal(env.OrderBook, &book); err != nil {
			return false, fmt.Errorf("order_book: %w", err)
		}
		if env.Type == "subscribed/order_book" {
			// First frame after subscribing is the full book.
			sink.snapshot(types.Snapshot{
				Symbol:   sym,
				Bids:     toPriceLevels(book.Bids),
				Asks:     toPriceLevels(book.Asks),
				Sequence: book.Offset,
			})
		} else {
			sink.delta(types.Delta{
				Symbol:   sym,
				Bids:     toPriceLevels(book.Bids),
				Asks:     toPriceLevels(book.Asks),
				Sequence: book.Offset,
			})
		}
		return true, nil

	case "subscribed/trade", "update/trade":
		sym, ok := d.channelSymbol(env.Channel)
		if !ok {
			return false, fmt.Errorf("unknown trade channel %q", env.Channel)
		}
		var raw []lighterTrade
		if err := json.Unmarshal(env.Trades, &raw); err != nil {
			return false, fmt.Errorf("trades: %w", err)
		}
		batch := make([]types.Trade, 0, len(raw))
		for _, t := range raw {
			side := types.SideSell
			if t.IsMakerAsk { // maker was the ask ⇒ aggressor bought
				side = types.SideBuy
			}
			batch = append(batch, types.Trade{
				ID:        strconv.FormatInt(t.TradeID, 10),
				Symbol:    sym,
				Price:     t.Price.String(),
				Size:      t.Size.String(),
				Side:      side,
				Timestamp: time.UnixMilli(t.Timestamp),
			})
		}
		sink.trades(batch)
		return true, nil

	case "pong", "subscribed":
		return false, nil

	default:
		return false, nil
	}
}

// channelSymbol maps "order_book:3" or "trade:3" back to a symbol.
func (d *lighterDialect) channelSymbol(channel string) (string, bool) {
	i := strings.LastIndexByte(channel, ':')
	if i < 0 {
		return "", false
	}
	id, err := strconv.Atoi(channel[i+1:])
	if err != nil {
		return "", false
	}
	return d.markets.Symbol(id)
}
