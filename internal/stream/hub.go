// Package stream broadcasts conflict alerts to websocket clients.
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ChrisYZZ/Cei-Noise/pkg/models"
)

// Hub tracks connected websocket clients and fans alerts out to them. A
// client that fails a write is dropped on the spot.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an alert hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeWS upgrades an HTTP request and registers the client until it
// disconnects. Blocks for the life of the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	log.Printf("Alert stream client connected: %s", conn.RemoteAddr())

	// Clients never send meaningful data; the read loop only detects
	// disconnects.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			log.Printf("Alert stream client disconnected: %s", conn.RemoteAddr())
			return
		}
	}
}

// Broadcast sends one alert to every connected client.
func (h *Hub) Broadcast(alert models.ConflictAlert) {
	msg, err := json.Marshal(alert)
	if err != nil {
		log.Printf("Alert marshaling error: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("Alert stream write error: %v", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}

// BroadcastAll sends a batch of alerts in order.
func (h *Hub) BroadcastAll(alerts []models.ConflictAlert) {
	for _, a := range alerts {
		h.Broadcast(a)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}
