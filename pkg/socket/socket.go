// Package socket is the Real-time Notification Fabric's bidirectional
// Socket Transport (spec §4.8): topic-subscribed websocket clients with
// per-client filters, heartbeats, and idle-timeout closing.
package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is one event frame sent to subscribed clients.
type Message struct {
	Topic     string          `json:"topic"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Filter narrows which messages on a subscribed topic a client receives,
// e.g. only a given table's high-priority tickets.
type Filter func(Message) bool

// Client is one connected websocket session.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan Message
	logger  *slog.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	topics     map[string]Filter
}

func newClient(id string, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan Message, sendBufferSize),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		topics:  make(map[string]Filter),
	}
}

// Subscribe adds a topic subscription with an optional filter (nil accepts
// every message on the topic).
func (c *Client) Subscribe(topic string, filter Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = filter
}

// Unsubscribe removes a topic subscription.
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// wants reports whether the client should receive this message, per its
// current subscriptions and filters.
func (c *Client) wants(m Message) bool {
	c.mu.Lock()
	filter, subscribed := c.topics[m.Topic]
	c.mu.Unlock()
	if !subscribed {
		return false
	}
	if filter == nil {
		return true
	}
	return filter(m)
}

// Hub fans out messages to subscribed clients and manages client lifecycle.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Upgrade accepts a websocket handshake and registers the resulting client,
// running its read/write pumps until the connection closes.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, clientID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := newClient(clientID, conn, h.logger)
	h.register(client)
	defer h.unregister(client)

	go client.writePump()
	client.readPump(h)
	return nil
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// Broadcast delivers m to every client subscribed to m.Topic whose filter
// accepts it. Slow clients that can't keep up with their send buffer are
// disconnected rather than blocking the broadcast.
func (h *Hub) Broadcast(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !c.wants(m) {
			continue
		}
		select {
		case c.send <- m:
		default:
			h.logger.Warn("client send buffer full, dropping connection", "client_id", c.id)
			go c.conn.Close()
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump(h *Hub) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			continue
		}
		c.handleClientMessage(payload)
	}
}

// clientCommand is the subscription management protocol a client sends
// over the socket (spec §4.8).
type clientCommand struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Topic  string `json:"topic"`
}

func (c *Client) handleClientMessage(payload []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.logger.Debug("ignoring malformed client command", "client_id", c.id, "error", err)
		return
	}
	switch cmd.Action {
	case "subscribe":
		c.Subscribe(cmd.Topic, nil)
	case "unsubscribe":
		c.Unsubscribe(cmd.Topic)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case m, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
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

// Shutdown closes every connected client with a normal-closure code, for
// graceful server shutdown.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
}
