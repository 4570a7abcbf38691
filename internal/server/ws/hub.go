// Package ws fans session events out to WebSocket display clients. The hub
// implements domain.EventSink so the session runtime can publish to it like
// any other sink; slow or stalled clients are dropped rather than ever
// back-pressuring the session.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oskarw/simtrader/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming subscription frames.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The hub serves local dashboards; origins are not restricted.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	kinds map[domain.EventKind]bool // empty means every kind
	mu    sync.RWMutex
}

// subscribeMsg is the JSON frame a client sends to narrow or widen the
// event kinds it receives, e.g. {"action":"subscribe","kinds":["FILL"]}.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Kinds  []string `json:"kinds"`
}

// broadcastMsg carries one marshalled event along with its kind so the hub
// can route it only to clients subscribed to that kind.
type broadcastMsg struct {
	kind domain.EventKind
	data []byte
}

// Hub manages the set of connected WebSocket clients and broadcasts session
// events to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	status     func() domain.SessionStatus
	logger     *slog.Logger
	dropped    atomic.Int64
}

var _ domain.EventSink = (*Hub)(nil)

// NewHub creates a hub. status provides the snapshot pushed to every client
// on connect; it may be nil.
func NewHub(status func() domain.SessionStatus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		status:     status,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Publish implements domain.EventSink. It never blocks: when the broadcast
// buffer is full the event is counted as dropped and the session moves on.
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMsg{kind: ev.Kind, data: data}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many events were discarded because the broadcast
// buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and broadcasting, and exits when the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Info("client connected",
				slog.Int("total_clients", len(h.clients)),
			)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.logger.Info("client disconnected",
				slog.Int("total_clients", len(h.clients)),
			)

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.kind) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Client's send buffer is full; drop the message.
					h.dropped.Add(1)
					h.logger.Warn("dropping event for slow client")
				}
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /api/ws/events
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		kinds: make(map[domain.EventKind]bool),
	}

	h.register <- c
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

// readPump reads frames from the WebSocket connection, handling
// subscription requests until the client goes away.
func (c *client) readPump() {
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
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.applySubscribe(msg)
	}
}

// applySubscribe updates the client's kind filter from one subscription
// frame. Kind names match case-insensitively against the event kinds.
func (c *client) applySubscribe(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range msg.Kinds {
		kind := domain.EventKind(strings.ToUpper(strings.TrimSpace(k)))
		switch msg.Action {
		case "subscribe":
			c.kinds[kind] = true
		case "unsubscribe":
			delete(c.kinds, kind)
		}
	}
}

// wants reports whether the client should receive events of the given kind.
// A client with no explicit subscriptions receives everything.
func (c *client) wants(kind domain.EventKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.kinds) == 0 {
		return true
	}
	return c.kinds[kind]
}

// sendInitialStatus pushes a session status envelope so clients can render
// the current state before any new events flow.
func (c *client) sendInitialStatus() {
	if c.hub.status == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{
		"type":    "session_status",
		"payload": c.hub.status(),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection and
// sends periodic ping frames for keepalive.
func (c *client) writePump() {
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
				// The hub closed the channel.
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
