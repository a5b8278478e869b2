package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket event names.
const (
	EventChatMessage      = "chatMessage"
	EventMessage          = "message"
	EventError            = "error"
	EventJoinRoom         = "joinRoom"
	EventJoinRoomSuccess  = "joinRoomSuccess"
	EventJoinRoomError    = "joinRoomError"
	EventFetchPrevious    = "fetchPreviousMessages"
	EventPreviousMessages = "previousMessagesLoaded"
)

// Event is a frame received from the server.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// Conn is a live socket connection. Send is safe for concurrent use.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Dial opens a socket with the client's session.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	if c.SessionID == "" {
		return nil, errors.New("not logged in")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	header := http.Header{}
	header.Set("X-User-ID", c.UserID)
	header.Set("X-Session-ID", c.SessionID)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Send writes one event frame.
func (s *Conn) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.ws.WriteJSON(map[string]any{"event": event, "data": data})
}

// Join subscribes the connection to a room.
func (s *Conn) Join(roomID string) error {
	return s.Send(EventJoinRoom, roomID)
}

// SendText sends a text message to a room.
func (s *Conn) SendText(roomID, content string) error {
	return s.Send(EventChatMessage, map[string]string{
		"room":    roomID,
		"type":    "text",
		"content": content,
	})
}

// Next blocks for the next frame or until ctx is done.
func (s *Conn) Next(ctx context.Context) (*Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.ws.SetReadDeadline(deadline)
	} else {
		s.ws.SetReadDeadline(time.Time{})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks the pending read.
			s.ws.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	var ev Event
	if err := s.ws.ReadJSON(&ev); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &ev, nil
}

// WaitFor reads frames until one named event arrives. Other frames are
// discarded, except error events which are returned as an error.
func (s *Conn) WaitFor(ctx context.Context, event string) (*Event, error) {
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch ev.Event {
		case event:
			return ev, nil
		case EventError, EventJoinRoomError:
			var p ErrorPayload
			json.Unmarshal(ev.Data, &p)
			return nil, &SocketError{Event: ev.Event, Payload: p}
		}
	}
}

// SocketError is an error event received from the server.
type SocketError struct {
	Event   string
	Payload ErrorPayload
}

func (e *SocketError) Error() string {
	return e.Event + ": " + e.Payload.Code + ": " + e.Payload.Message
}

// Close closes the connection.
func (s *Conn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.ws.Close()
}
