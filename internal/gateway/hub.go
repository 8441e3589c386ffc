// Package gateway streams cycle results to WebSocket clients and keeps the
// in-memory history served by the REST API.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"futures-signal-engine/internal/execution"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Envelope is the WS message wrapping every cycle result.
type Envelope struct {
	Type   string           `json:"type"` // "cycle"
	Seq    int64            `json:"seq"`
	TS     string           `json:"ts"`
	Result execution.Result `json:"result"`
}

// Hub fans cycle results out to connected WS clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	history *History
}

// NewHub creates a hub remembering the last historySize results.
func NewHub(historySize int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		history: NewHistory(historySize),
	}
}

// History returns the recent results ring.
func (h *Hub) History() *History { return h.history }

// ObserveCycle records r and broadcasts it.
func (h *Hub) ObserveCycle(ctx context.Context, r execution.Result) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	envelope, err := json.Marshal(Envelope{
		Type:   "cycle",
		Seq:    seq,
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
		Result: r,
	})
	if err != nil {
		slog.Warn("ws envelope marshal failed", "error", err)
		return
	}
	h.history.Push(seq, r, envelope)
	h.broadcast(envelope)
}

// broadcast never blocks on a slow client; its message is dropped.
func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Debug("ws client slow, dropping message")
		}
	}
}

// sendTo queues msg for one client. It reports false when the client was
// already removed or its buffer is full.
func (h *Hub) sendTo(c *Client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the connection and registers the client. The optional
// "since" query parameter replays buffered results with a larger seq.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, 64), hub: h}

	since := int64(-1)
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	if since >= 0 {
		for _, msg := range h.history.Since(since) {
			select {
			case c.send <- msg:
			default:
			}
		}
	}
	h.mu.Unlock()

	slog.Info("ws client connected", "clients", count)

	go c.writePump()
	go c.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
