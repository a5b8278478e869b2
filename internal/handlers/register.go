package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/crypto"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
)

const minPasswordLength = 8

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	User       pipeline.UserResponse `json:"user"`
	ProfileURL string                `json:"profileUrl"`
}

// Register handles account creation.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := sanitizeName(req.Name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}
	if len(req.Password) < minPasswordLength {
		h.Error(w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.data.CreateUser(r.Context(), name, email, hash)
	if errors.Is(err, store.ErrDuplicate) {
		h.Error(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.JSON(w, http.StatusCreated, RegisterResponse{
		User:       pipeline.NewUserResponse(user),
		ProfileURL: "/users/" + user.ID,
	})
}
