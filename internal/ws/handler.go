package ws

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, this should be more restrictive
		return true
	},
}

// Handler handles WebSocket connections for real-time status updates
type Handler struct {
	hub *StatusHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *StatusHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL formats: /ws/status for the global feed,
// /ws/status/{incident_id} for one incident
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/status")
	incidentID := strings.Trim(path, "/")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[WS] Upgrade error: %v\n", err)
		return
	}

	fmt.Printf("[WS] New connection for %q from %s\n", incidentID, r.RemoteAddr)

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.hub.register(incidentID, c)

	go c.writePump()
	go h.readPump(incidentID, c)
}

// readPump reads messages from the WebSocket connection
// This keeps the connection alive and handles client disconnection
func (h *Handler) readPump(incidentID string, c *client) {
	defer func() {
		h.hub.unregister(incidentID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512) // Small limit since client shouldn't send much
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WS] Read error for %q: %v\n", incidentID, err)
			}
			break
		}
	}
}
