// Package socket carries chat events over WebSocket connections and fans
// room events out to every node through Redis pub/sub.
package socket

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
)

// Envelope is the JSON frame exchanged with clients.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{event, payload})
}

// Hub tracks the clients connected to this node and the rooms they joined.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]bool
	clients map[*Client]bool
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]bool),
		clients: make(map[*Client]bool),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	metrics.SocketConnections.Inc()
	h.logger.Debug().Str("user", c.Identity.UserID).Msg("client connected")
}

// Unregister removes a client from every room and closes its send queue.
// Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for roomID := range c.rooms {
		h.removeLocked(roomID, c)
	}
	c.closed = true
	close(c.send)

	metrics.SocketConnections.Dec()
	h.logger.Debug().Str("user", c.Identity.UserID).Msg("client disconnected")
}

// Join subscribes c to roomID. It reports false for an unregistered client.
func (h *Hub) Join(roomID string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return false
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	c.rooms[roomID] = true
	return true
}

// Leave unsubscribes c from roomID.
func (h *Hub) Leave(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(roomID, c)
}

func (h *Hub) removeLocked(roomID string, c *Client) {
	delete(c.rooms, roomID)
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Joined reports whether c is subscribed to roomID.
func (h *Hub) Joined(roomID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.rooms[roomID]
}

// Deliver queues an encoded frame for every local subscriber of roomID and
// returns how many accepted it. Subscribers with a full queue miss the frame.
func (h *Hub) Deliver(roomID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.rooms[roomID] {
		if h.enqueueLocked(c, frame) {
			sent++
		}
	}
	return sent
}

// RoomSize returns the number of local subscribers of roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Stats returns the number of local connections and joined rooms.
func (h *Hub) Stats() (clients, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}

func (h *Hub) enqueue(c *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enqueueLocked(c, frame)
}

// enqueueLocked requires at least a read lock so that send is not closed
// underneath it.
func (h *Hub) enqueueLocked(c *Client, frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.BroadcastsDropped.Inc()
		h.logger.Warn().Str("user", c.Identity.UserID).Msg("send queue full, frame dropped")
		return false
	}
}
