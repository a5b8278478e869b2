package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api/middleware"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

// PostMessageResponse represents the post message response.
type PostMessageResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// errorCollector keeps the error event the pipeline addresses to the caller.
type errorCollector struct {
	payload *pipeline.ErrorPayload
}

func (c *errorCollector) Emit(event string, payload any) {
	if p, ok := payload.(pipeline.ErrorPayload); ok && event == pipeline.EventError {
		c.payload = &p
	}
}

// PostMessage sends a chat message over HTTP. It runs the same pipeline as
// the socket chatMessage event; the room comes from the URL.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req pipeline.ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Room = chi.URLParam(r, "id")

	caller := &pipeline.Identity{UserID: id.UserID, SessionToken: id.SessionToken}
	var collector errorCollector
	out := h.svc.Messages.Handle(r.Context(), caller, &req, &collector)

	switch out.Status {
	case pipeline.StatusSuccess:
		h.JSON(w, http.StatusCreated, PostMessageResponse{
			ID:        out.Message.ID,
			Timestamp: out.Message.TimestampMillis(),
		})
	case pipeline.StatusIgnored:
		w.WriteHeader(http.StatusNoContent)
	default:
		payload := collector.payload
		if payload == nil {
			payload = out.Error
		}
		if payload.RetryAfter != nil {
			w.Header().Set("Retry-After", strconv.Itoa(*payload.RetryAfter))
		}
		h.JSON(w, statusFor(out.Reason), payload)
	}
}

// statusFor maps a pipeline failure reason to an HTTP status.
func statusFor(reason string) int {
	switch reason {
	case pipeline.ReasonSessionNull, pipeline.ReasonSessionExpired:
		return http.StatusUnauthorized
	case pipeline.ReasonRateLimit:
		return http.StatusTooManyRequests
	case pipeline.ReasonRoomAccessDenied:
		return http.StatusForbidden
	case pipeline.ReasonUserNotFound:
		return http.StatusNotFound
	case pipeline.ReasonBannedWord:
		return http.StatusUnprocessableEntity
	case pipeline.ReasonException:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
