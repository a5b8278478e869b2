package socket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 * 1024

	sendBuffer = 256
)

// Client is one WebSocket connection of an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	Identity pipeline.Identity

	// guarded by hub.mu
	rooms  map[string]bool
	closed bool
}

var _ pipeline.Emitter = (*Client)(nil)

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, identity pipeline.Identity, logger zerolog.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger:   logger.With().Str("user", identity.UserID).Logger(),
		Identity: identity,
		rooms:    make(map[string]bool),
	}
}

// Emit queues an event for this connection only.
func (c *Client) Emit(event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	c.hub.enqueue(c, frame)
}

// ReadPump decodes inbound frames and dispatches them in order.
// It runs in its own goroutine per connection and unregisters on exit.
func (c *Client) ReadPump(ctx context.Context, d *Dispatcher) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("socket read error")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Debug().Err(err).Msg("malformed frame ignored")
			continue
		}
		d.Dispatch(ctx, c, env)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per event; clients parse each frame as JSON.
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
