package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api/middleware"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/crypto"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the credentials for authenticated requests and
// socket connections.
type LoginResponse struct {
	UserID    string                `json:"userId"`
	SessionID string                `json:"sessionId"`
	User      pipeline.UserResponse `json:"user"`
}

// Login checks a password and starts a session, replacing any other
// session of the same user.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.data.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil || crypto.CheckPassword(user.PasswordHash, req.Password) != nil {
		h.Error(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	rec, err := h.svc.Sessions.Create(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.JSON(w, http.StatusOK, LoginResponse{
		UserID:    user.ID,
		SessionID: rec.Token,
		User:      pipeline.NewUserResponse(user),
	})
}

// Logout ends the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.svc.Sessions.Remove(r.Context(), id.UserID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
