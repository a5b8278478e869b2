package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/socket"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Sessions issues and revokes login sessions.
type Sessions interface {
	Create(ctx context.Context, userID string) (*models.SessionRecord, error)
	Remove(ctx context.Context, userID string) error
}

// Services are the collaborators shared by the HTTP handlers.
type Services struct {
	Sessions Sessions
	Messages socket.MessageHandler
	Files    pipeline.FileURLResolver
	Hub      *socket.Hub
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	data  store.DataStore
	redis *store.RedisStore
	svc   Services
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(data store.DataStore, redis *store.RedisStore, svc Services) *Handler {
	return &Handler{data: data, redis: redis, svc: svc}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
