package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Credential headers sent by clients after login.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID       string
	SessionToken string
}

// SessionChecker validates a user's session token.
type SessionChecker interface {
	Validate(ctx context.Context, userID, token string) (session.Result, error)
}

// AuthMiddleware verifies session tokens on authenticated endpoints.
type AuthMiddleware struct {
	sessions SessionChecker
	logger   zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(sessions SessionChecker, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, logger: logger}
}

// RequireAuth rejects requests without a current session.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		token := r.Header.Get(HeaderSessionID)
		if userID == "" || token == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		res, err := m.sessions.Validate(r.Context(), userID, token)
		if err != nil {
			m.logger.Error().Err(err).Str("user", userID).Msg("session lookup failed")
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !res.Valid {
			m.logger.Info().
				Str("type", "security").
				Str("event", "session_rejected").
				Str("user", userID).
				Str("reason", res.Reason).
				Msg("invalid session")
			jsonError(w, http.StatusUnauthorized, "session expired, please log in again")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, Identity{UserID: userID, SessionToken: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetIdentityFromContext retrieves the authenticated caller from the request context.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// WithIdentity attaches an identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
