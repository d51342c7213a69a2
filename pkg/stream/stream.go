// Package stream is the Real-time Notification Fabric's one-way
// Server-Sent-Events transport (spec §4.8): per-connection event streams
// with a per-IP connection cap and periodic heartbeats.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wisbric/snowlink/pkg/corerr"
)

const heartbeatInterval = 15 * time.Second

// Event is one SSE frame: id, event name, and JSON data, per the plain-text
// "id:/event:/data:" wire format (spec §4.8).
type Event struct {
	ID    string
	Name  string
	Data  string
}

func (e Event) writeTo(w *bufio.Writer) error {
	if e.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", e.ID); err != nil {
			return err
		}
	}
	if e.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", e.Data); err != nil {
		return err
	}
	return w.Flush()
}

// Connection is one subscriber's outbound event channel.
type Connection struct {
	ip     string
	events chan Event
}

// Hub tracks active SSE connections and enforces the per-IP cap.
type Hub struct {
	mu          sync.Mutex
	byIP        map[string]int
	connections map[*Connection]struct{}
	maxPerIP    int
	retryHintMs int
	logger      *slog.Logger
}

// NewHub creates a Hub with the given per-IP connection cap and the
// client-reconnect retry hint (in milliseconds) sent on every stream open.
func NewHub(maxPerIP, retryHintMs int, logger *slog.Logger) *Hub {
	return &Hub{
		byIP:        make(map[string]int),
		connections: make(map[*Connection]struct{}),
		maxPerIP:    maxPerIP,
		retryHintMs: retryHintMs,
		logger:      logger,
	}
}

// Serve upgrades an HTTP request into an SSE stream, blocking until the
// client disconnects or ctx is cancelled. Returns a RateLimited-kind error
// if the caller's IP is already at its connection cap.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, clientIP string) error {
	conn, err := h.acquire(clientIP)
	if err != nil {
		return err
	}
	defer h.release(conn)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "retry: %d\n\n", h.retryHintMs); err != nil {
		return err
	}
	bw.Flush()
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Context().Done():
			return nil
		case ev := <-conn.events:
			if err := ev.writeTo(bw); err != nil {
				return err
			}
			flusher.Flush()
		case <-ticker.C:
			if err := (Event{Name: "heartbeat", Data: "{}"}).writeTo(bw); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func (h *Hub) acquire(ip string) (*Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byIP[ip] >= h.maxPerIP {
		return nil, corerr.New(corerr.KindRateLimited, fmt.Sprintf("connection cap reached for %s", ip))
	}
	h.byIP[ip]++

	conn := &Connection{ip: ip, events: make(chan Event, 32)}
	h.connections[conn] = struct{}{}
	return conn, nil
}

func (h *Hub) release(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, conn)
	h.byIP[conn.ip]--
	if h.byIP[conn.ip] <= 0 {
		delete(h.byIP, conn.ip)
	}
}

// Broadcast pushes an event to every connected subscriber. A subscriber
// whose buffer is full is skipped rather than blocking the broadcaster.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		select {
		case conn.events <- ev:
		default:
			h.logger.Warn("sse connection buffer full, dropping event", "ip", conn.ip)
		}
	}
}

// ConnectionCount returns the total number of active SSE connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}
