package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api/middleware"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

const maxInitialParticipants = 100

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants,omitempty"` // user ids besides the creator
}

// RoomResponse is the public view of a room.
type RoomResponse struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Participants []pipeline.UserResponse `json:"participants"`
	CreatedAt    time.Time               `json:"createdAt"`
}

// RoomMessagesResponse represents the get room messages response.
type RoomMessagesResponse struct {
	Room     RoomResponse               `json:"room"`
	Messages []pipeline.MessageResponse `json:"messages"`
	HasMore  bool                       `json:"hasMore"`
}

func (h *Handler) roomResponse(r *http.Request, room *models.Room) RoomResponse {
	resp := RoomResponse{
		ID:           room.ID,
		Name:         room.Name,
		Participants: make([]pipeline.UserResponse, 0, len(room.ParticipantIDs)),
		CreatedAt:    room.CreatedAt,
	}
	for _, id := range room.ParticipantIDs {
		if u, err := h.data.GetUserByID(r.Context(), id); err == nil && u != nil {
			resp.Participants = append(resp.Participants, pipeline.NewUserResponse(u))
		}
	}
	return resp
}

// CreateRoom handles room creation (authenticated). The creator is always a participant.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Participants) > maxInitialParticipants {
		h.Error(w, http.StatusBadRequest, "too many participants")
		return
	}

	participants := []string{id.UserID}
	seen := map[string]bool{id.UserID: true}
	for _, p := range req.Participants {
		if seen[p] {
			continue
		}
		seen[p] = true
		u, err := h.data.GetUserByID(r.Context(), p)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if u == nil {
			h.Error(w, http.StatusUnprocessableEntity, "unknown participant: "+p)
			return
		}
		participants = append(participants, p)
	}

	room, err := h.data.CreateRoom(r.Context(), req.Name, participants)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusCreated, h.roomResponse(r, room))
}

// loadRoom fetches the room in the URL and checks the caller's membership.
// It writes the error response and returns nil on failure.
func (h *Handler) loadRoom(w http.ResponseWriter, r *http.Request, requireMember bool) *models.Room {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil
	}

	room, err := h.data.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return nil
	}
	if requireMember && !room.HasParticipant(id.UserID) {
		h.Error(w, http.StatusForbidden, "no access to this room")
		return nil
	}
	return room
}

// GetRoom returns room details to its participants.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room := h.loadRoom(w, r, true)
	if room == nil {
		return
	}
	h.JSON(w, http.StatusOK, h.roomResponse(r, room))
}

// JoinRoom adds the caller to a room's participants.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	room := h.loadRoom(w, r, false)
	if room == nil {
		return
	}
	id, _ := middleware.GetIdentityFromContext(r.Context())

	if !room.HasParticipant(id.UserID) {
		if err := h.data.AddParticipant(r.Context(), room.ID, id.UserID); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to join room")
			return
		}
		room.ParticipantIDs = append(room.ParticipantIDs, id.UserID)
	}

	h.JSON(w, http.StatusOK, h.roomResponse(r, room))
}

// GetRoomMessages returns a page of messages older than ?before (unix
// millis), oldest first.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	room := h.loadRoom(w, r, true)
	if room == nil {
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > 100 {
		limit = 100
	}

	var before time.Time
	if b, err := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64); err == nil && b > 0 {
		before = time.UnixMilli(b)
	}

	// +1 for the hasMore check
	messages, err := h.data.ListRoomMessages(r.Context(), room.ID, before, limit+1)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	senders := make(map[string]*models.User)
	out := make([]pipeline.MessageResponse, len(messages))
	for i := range messages {
		// newest first from the store
		msg := &messages[len(messages)-1-i]
		sender, seen := senders[msg.SenderID]
		if !seen {
			sender, _ = h.data.GetUserByID(r.Context(), msg.SenderID)
			senders[msg.SenderID] = sender
		}
		out[i] = pipeline.RenderMessage(msg, sender, h.svc.Files)
	}

	h.JSON(w, http.StatusOK, RoomMessagesResponse{
		Room:     h.roomResponse(r, room),
		Messages: out,
		HasMore:  hasMore,
	})
}
