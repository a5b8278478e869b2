package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// WhoResponse represents the public profile of a user.
type WhoResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
	JoinedAt     string `json:"joinedAt"`
}

// Who handles user profile lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.data.GetUserByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, WhoResponse{
		ID:           user.ID,
		Name:         user.Name,
		ProfileImage: user.ProfileImage,
		JoinedAt:     user.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
