package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api/middleware"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/handlers"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/ratelimit"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/socket"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
)

// Deps are the services the router exposes.
type Deps struct {
	Data      store.DataStore
	Redis     *store.RedisStore
	Limiter   *ratelimit.Limiter
	Sessions  *session.Validator
	Services  handlers.Services
	Socket    *socket.Handler
	RateLimit middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(deps.Redis.Client(), deps.Limiter, logger, deps.RateLimit)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.HeaderUserID, middleware.HeaderSessionID},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Data, deps.Redis, deps.Services)
	auth := middleware.NewAuthMiddleware(deps.Sessions, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Get("/users/{id}", h.Who)

	// Socket connections authenticate on upgrade
	if deps.Socket != nil {
		r.Get("/ws", deps.Socket.ServeWS)
	}

	// Authenticated routes (require session)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/logout", h.Logout)
		r.Post("/rooms", h.CreateRoom)
		r.Get("/rooms/{id}", h.GetRoom)
		r.Post("/rooms/{id}/join", h.JoinRoom)
		r.Get("/rooms/{id}/messages", h.GetRoomMessages)
		r.Post("/rooms/{id}/messages", h.PostMessage)
	})

	return r
}
