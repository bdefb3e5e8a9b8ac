// Package gateway bridges the internal publish bus to external WebSocket
// subscribers.
//
// Clients connect to /ws and manage their channel set with
// {"op":"subscribe","channels":["orderbook.hyperliquid.BTC", "candles."]}.
// Channel patterns follow the bus rules: exact match, or a trailing dot for
// prefix match. Delivery is best effort: a client whose send buffer fills
// is disconnected rather than allowed to stall the fan-out.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perpagg/internal/bus"
	"perpagg/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientCommand is the inbound control message shape.
type clientCommand struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

// Client is one connected downstream subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	patterns map[string]bool
}

// wants reports whether the client subscribed to a pattern covering channel.
func (c *Client) wants(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := range c.patterns {
		if bus.Matches(p, channel) {
			return true
		}
	}
	return false
}

func (c *Client) apply(cmd clientCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Op {
	case "subscribe":
		for _, ch := range cmd.Channels {
			c.patterns[ch] = true
		}
	case "unsubscribe":
		for _, ch := range cmd.Channels {
			delete(c.patterns, ch)
		}
	}
}

// Hub fans bus envelopes out to connected clients.
type Hub struct {
	bus *bus.Bus

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	logger *slog.Logger
}

// NewHub creates a hub reading from b.
func NewHub(b *bus.Bus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        b,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "gateway_hub"),
	}
}

// Run drains the bus and manages client membership. Blocks until the bus
// subscription closes.
func (h *Hub) Run() {
	sub := h.bus.SubscribeBuffered("*", 1024)
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.GatewayClients.Set(float64(n))
			h.logger.Info("client connected", "count", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.GatewayClients.Set(float64(n))
			h.logger.Info("client disconnected", "count", n)

		case env, ok := <-sub.C:
			if !ok {
				return
			}
			h.dispatch(env)
		}
	}
}

func (h *Hub) dispatch(env bus.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("envelope marshal failed", "channel", env.Channel, "error", err)
		return
	}

	h.mu.RLock()
	var evicted []*Client
	for client := range h.clients {
		if !client.wants(env.Channel) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client cannot keep up; evict instead of stalling the hub.
			evicted = append(evicted, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range evicted {
		h.logger.Warn("slow client evicted", "channel", env.Channel)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.GatewayClients.Set(float64(n))
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		patterns: make(map[string]bool),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pumps hub messages to the socket with a ping keepalive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes subscribe/unsubscribe commands until the client goes
// away.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.hub.logger.Debug("bad client command ignored", "error", err)
			continue
		}
		c.apply(cmd)
	}
}
