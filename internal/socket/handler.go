package socket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled by the router.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Sessions validates the credentials presented on connect.
type Sessions interface {
	Validate(ctx context.Context, userID, token string) (session.Result, error)
}

// Handler upgrades HTTP requests to chat connections.
type Handler struct {
	ctx        context.Context
	hub        *Hub
	dispatcher *Dispatcher
	sessions   Sessions
	logger     zerolog.Logger
}

// NewHandler creates a handler. Connections live until ctx is done or the
// peer disconnects.
func NewHandler(ctx context.Context, hub *Hub, dispatcher *Dispatcher, sessions Sessions, logger zerolog.Logger) *Handler {
	return &Handler{
		ctx:        ctx,
		hub:        hub,
		dispatcher: dispatcher,
		sessions:   sessions,
		logger:     logger.With().Str("component", "socket").Logger(),
	}
}

// credentials reads the user id and session token from headers, falling
// back to query parameters for browsers that cannot set headers.
func credentials(r *http.Request) pipeline.Identity {
	id := pipeline.Identity{
		UserID:       r.Header.Get("X-User-ID"),
		SessionToken: r.Header.Get("X-Session-ID"),
	}
	q := r.URL.Query()
	if id.UserID == "" {
		id.UserID = q.Get("userId")
	}
	if id.SessionToken == "" {
		id.SessionToken = q.Get("sessionId")
	}
	return id
}

// ServeWS handles WebSocket upgrade requests at /ws.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := credentials(r)
	if identity.UserID == "" || identity.SessionToken == "" {
		http.Error(w, `{"error":"missing credentials"}`, http.StatusUnauthorized)
		return
	}

	res, err := h.sessions.Validate(r.Context(), identity.UserID, identity.SessionToken)
	if err != nil {
		h.logger.Error().Err(err).Str("user", identity.UserID).Msg("session lookup failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !res.Valid {
		h.logger.Info().Str("user", identity.UserID).Str("reason", res.Reason).Msg("socket rejected")
		http.Error(w, `{"error":"session expired"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, identity, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.ctx, h.dispatcher)
}
