package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

// Room and history events.
const (
	EventJoinRoom               = "joinRoom"
	EventJoinRoomSuccess        = "joinRoomSuccess"
	EventJoinRoomError          = "joinRoomError"
	EventLeaveRoom              = "leaveRoom"
	EventFetchPreviousMessages  = "fetchPreviousMessages"
	EventPreviousMessagesLoaded = "previousMessagesLoaded"
	EventMessageReaction        = "messageReaction"
	EventMessageReactionUpdate  = "messageReactionUpdate"

	CodeLoadError     = "LOAD_ERROR"
	CodeReactionError = "REACTION_ERROR"

	defaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

// MessageHandler runs one chat message through the ingestion pipeline.
type MessageHandler interface {
	Handle(ctx context.Context, caller *pipeline.Identity, req *pipeline.ChatMessageRequest, emit pipeline.Emitter) pipeline.Outcome
}

// Rooms is the read side of the document store used by room events.
type Rooms interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRoomMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ReactToMessage(ctx context.Context, id string, change func(*models.Message) bool) (*models.Message, error)
}

// Dispatcher routes inbound events of a connection.
type Dispatcher struct {
	messages MessageHandler
	rooms    Rooms
	files    pipeline.FileURLResolver
	bcast    pipeline.Broadcaster
	hub      *Hub
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(messages MessageHandler, rooms Rooms, files pipeline.FileURLResolver, bcast pipeline.Broadcaster, hub *Hub, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		messages: messages,
		rooms:    rooms,
		files:    files,
		bcast:    bcast,
		hub:      hub,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch handles a single inbound event. Unknown events are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, env Envelope) {
	switch env.Event {
	case pipeline.EventChatMessage:
		d.chatMessage(ctx, c, env.Data)
	case EventJoinRoom:
		d.joinRoom(ctx, c, env.Data)
	case EventLeaveRoom:
		if roomID := decodeRoomID(env.Data); roomID != "" {
			d.hub.Leave(roomID, c)
		}
	case EventFetchPreviousMessages:
		d.fetchPreviousMessages(ctx, c, env.Data)
	case EventMessageReaction:
		d.messageReaction(ctx, c, env.Data)
	default:
		d.logger.Debug().Str("event", env.Event).Msg("unknown event ignored")
	}
}

func (d *Dispatcher) chatMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var req *pipeline.ChatMessageRequest
	if !isNull(data) {
		req = new(pipeline.ChatMessageRequest)
		if err := json.Unmarshal(data, req); err != nil {
			d.logger.Debug().Err(err).Str("user", c.Identity.UserID).Msg("undecodable chat message")
			req = nil
		}
	}
	identity := c.Identity
	d.messages.Handle(ctx, &identity, req, c)
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

// decodeRoomID accepts either a bare room id string or {"roomId": ...}.
func decodeRoomID(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id
	}
	var req roomRequest
	if err := json.Unmarshal(data, &req); err == nil {
		return req.RoomID
	}
	return ""
}

type roomJoined struct {
	RoomID       string                  `json:"roomId"`
	Name         string                  `json:"name"`
	Participants []pipeline.UserResponse `json:"participants"`
}

type roomError struct {
	Message string `json:"message"`
}

func (d *Dispatcher) joinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	roomID := decodeRoomID(data)
	room, err := d.authorize(ctx, c, roomID)
	if err != nil {
		d.logger.Error().Err(err).Str("room", roomID).Msg("join room failed")
		c.Emit(EventJoinRoomError, roomError{Message: "failed to join room"})
		return
	}
	if room == nil {
		c.Emit(EventJoinRoomError, roomError{Message: "no access to this room"})
		return
	}

	d.hub.Join(room.ID, c)

	participants := make([]pipeline.UserResponse, 0, len(room.ParticipantIDs))
	for _, id := range room.ParticipantIDs {
		u, err := d.rooms.GetUserByID(ctx, id)
		if err != nil || u == nil {
			continue
		}
		participants = append(participants, pipeline.NewUserResponse(u))
	}
	c.Emit(EventJoinRoomSuccess, roomJoined{RoomID: room.ID, Name: room.Name, Participants: participants})
}

// authorize returns the room if the client's user is a participant.
func (d *Dispatcher) authorize(ctx context.Context, c *Client, roomID string) (*models.Room, error) {
	if roomID == "" {
		return nil, nil
	}
	room, err := d.rooms.GetRoom(ctx, roomID)
	if err != nil || room == nil {
		return nil, err
	}
	if !room.HasParticipant(c.Identity.UserID) {
		return nil, nil
	}
	return room, nil
}

type historyRequest struct {
	RoomID string `json:"roomId"`
	Before int64  `json:"before"` // unix millis; zero loads the latest page
	Limit  int    `json:"limit"`
}

type historyPage struct {
	RoomID          string                     `json:"roomId"`
	Messages        []pipeline.MessageResponse `json:"messages"`
	HasMore         bool                       `json:"hasMore"`
	OldestTimestamp int64                      `json:"oldestTimestamp,omitempty"`
}

func (d *Dispatcher) fetchPreviousMessages(ctx context.Context, c *Client, data json.RawMessage) {
	var req historyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: CodeLoadError, Message: "invalid request"})
		return
	}
	switch {
	case req.Limit <= 0:
		req.Limit = defaultHistoryLimit
	case req.Limit > maxHistoryLimit:
		req.Limit = maxHistoryLimit
	}

	room, err := d.authorize(ctx, c, req.RoomID)
	if err == nil && room == nil {
		c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: CodeLoadError, Message: "no access to this room"})
		return
	}

	var page []models.Message
	if err == nil {
		var before time.Time
		if req.Before > 0 {
			before = time.UnixMilli(req.Before)
		}
		// One extra row tells whether an older page exists.
		page, err = d.rooms.ListRoomMessages(ctx, room.ID, before, req.Limit+1)
	}
	if err != nil {
		d.logger.Error().Err(err).Str("room", req.RoomID).Msg("failed to load previous messages")
		c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: CodeLoadError, Message: "failed to load previous messages"})
		return
	}

	hasMore := len(page) > req.Limit
	if hasMore {
		page = page[:req.Limit]
	}
	// Pages come newest first; clients render oldest first.
	slices.Reverse(page)

	senders := make(map[string]*models.User)
	out := historyPage{RoomID: room.ID, HasMore: hasMore, Messages: make([]pipeline.MessageResponse, 0, len(page))}
	for i := range page {
		msg := &page[i]
		sender, seen := senders[msg.SenderID]
		if !seen {
			sender, _ = d.rooms.GetUserByID(ctx, msg.SenderID)
			senders[msg.SenderID] = sender
		}
		out.Messages = append(out.Messages, pipeline.RenderMessage(msg, sender, d.files))
	}
	if len(page) > 0 {
		out.OldestTimestamp = page[0].TimestampMillis()
	}

	c.Emit(EventPreviousMessagesLoaded, out)
}

type reactionRequest struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
	Type      string `json:"type"` // add or remove
}

type reactionUpdate struct {
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

func (d *Dispatcher) messageReaction(ctx context.Context, c *Client, data json.RawMessage) {
	var req reactionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.MessageID == "" || req.Reaction == "" ||
		(req.Type != "add" && req.Type != "remove") {
		c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: CodeReactionError, Message: "invalid reaction"})
		return
	}
	userID := c.Identity.UserID

	msg, err := d.rooms.GetMessage(ctx, req.MessageID)
	var room *models.Room
	if err == nil && msg != nil && !msg.IsDeleted {
		room, err = d.authorize(ctx, c, msg.RoomID)
	}
	if err != nil {
		d.logger.Error().Err(err).Str("message", req.MessageID).Msg("reaction lookup failed")
		c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: CodeReactionError, Message: "failed to update reaction"})
		return
	}
	if room == nil {
		c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: CodeReactionError, Message: "message not found"})
		return
	}

	changed := false
	updated, err := d.rooms.ReactToMessage(ctx, msg.ID, func(m *models.Message) bool {
		if req.Type == "add" {
			changed = m.AddReaction(req.Reaction, userID)
		} else {
			changed = m.RemoveReaction(req.Reaction, userID)
		}
		return changed
	})
	if err != nil || updated == nil {
		d.logger.Error().Err(err).Str("message", msg.ID).Msg("reaction update failed")
		c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: CodeReactionError, Message: "failed to update reaction"})
		return
	}
	if !changed {
		return
	}

	update := reactionUpdate{MessageID: updated.ID, Reactions: updated.Reactions}
	if update.Reactions == nil {
		update.Reactions = map[string][]string{}
	}
	if err := d.bcast.Broadcast(ctx, room.ID, EventMessageReactionUpdate, update); err != nil {
		d.logger.Warn().Err(err).Str("room", room.ID).Msg("reaction broadcast failed")
	}
}

func isNull(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
