// Package ws streams incident status transitions to WebSocket clients.
package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roadwatch/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// sendBuffer bounds how far a slow client may fall behind before it
	// is dropped
	sendBuffer = 16
)

// client owns one WebSocket connection. All writes (broadcasts and pings)
// go through the send channel into writePump, the connection's sole writer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// writePump serializes every write on the connection. It exits when the
// send channel closes (unregister) or a write fails, closing the conn so
// the read side unblocks too.
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				fmt.Printf("[WS] Error sending to client: %v\n", err)
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

// StatusHub manages WebSocket connections for real-time status updates.
// Clients subscribe either to a single incident or to the global feed.
type StatusHub struct {
	// clients maps incident_id -> set of clients; the empty key is the
	// global feed receiving every transition
	clients map[string]map[*client]bool
	mu      sync.RWMutex
}

// NewStatusHub creates a new status hub
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients: make(map[string]map[*client]bool),
	}
}

// register adds a client. An empty incidentID subscribes to all incidents.
func (h *StatusHub) register(incidentID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[incidentID] == nil {
		h.clients[incidentID] = make(map[*client]bool)
	}
	h.clients[incidentID][c] = true
	fmt.Printf("[WS] Client registered for %q (total: %d)\n", incidentID, len(h.clients[incidentID]))
}

// unregister removes a client and closes its send channel, which stops its
// writePump. Safe to call more than once for the same client.
func (h *StatusHub) unregister(incidentID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[incidentID]; ok && conns[c] {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, incidentID)
		}
		close(c.send)
		fmt.Printf("[WS] Client unregistered for %q\n", incidentID)
	}
}

// ClientCount returns the total number of connected clients
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// OnStatus broadcasts a status transition to the incident's subscribers and
// to the global feed. Implements the pipeline status handler. Safe to call
// from concurrent processing runs.
func (h *StatusHub) OnStatus(event pipeline.StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Printf("[WS] Error marshaling status event: %v\n", err)
		return
	}
	h.broadcast(event.IncidentID, data)
	h.broadcast("", data)
}

func (h *StatusHub) broadcast(key string, message []byte) {
	h.mu.RLock()
	var slow []*client
	for c := range h.clients[key] {
		select {
		case c.send <- message:
		default:
			// Client is not draining its buffer; cut it loose
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(key, c)
	}
}

// Ensure StatusHub can subscribe to the pipeline event bus
var _ pipeline.StatusHandler = (*StatusHub)(nil)
