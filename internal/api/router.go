package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/auth"
	"github.com/locolive/socialgraph/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	friendHandler   *FriendHandler
	groupHandler    *GroupHandler
	realtimeHandler *RealtimeHandler
	healthHandler   *HealthHandler
	websocket       http.Handler
	metrics         http.Handler
	limiter         *middleware.RateLimiter
	jwtManager      *auth.JWTManager
	allowedOrigins  []string
	logger          *zap.Logger
}

type RouterConfig struct {
	FriendHandler   *FriendHandler
	GroupHandler    *GroupHandler
	RealtimeHandler *RealtimeHandler
	HealthHandler   *HealthHandler
	// WebSocket serves GET /ws and authenticates the handshake itself.
	WebSocket      http.Handler
	Metrics        http.Handler
	Limiter        *middleware.RateLimiter
	JWTManager     *auth.JWTManager
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates a new router
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		friendHandler:   cfg.FriendHandler,
		groupHandler:    cfg.GroupHandler,
		realtimeHandler: cfg.RealtimeHandler,
		healthHandler:   cfg.HealthHandler,
		websocket:       cfg.WebSocket,
		metrics:         cfg.Metrics,
		limiter:         cfg.Limiter,
		jwtManager:      cfg.JWTManager,
		allowedOrigins:  cfg.AllowedOrigins,
		logger:          cfg.Logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware(rt.allowedOrigins))

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics)
	}

	// Realtime gateway; compression would hide the hijacker from the upgrader.
	r.Method(http.MethodGet, "/ws", rt.websocket)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Compress(5))
		r.Use(middleware.AuthMiddleware(rt.jwtManager))

		r.Get("/friends", rt.friendHandler.GetFriends)
		r.Get("/friends/requests", rt.friendHandler.GetRequests)
		r.Get("/friends/{userID}/status", rt.friendHandler.GetStatus)

		r.Get("/groups/{groupID}", rt.groupHandler.GetGroup)
		r.Get("/groups/{groupID}/members", rt.groupHandler.GetMembers)

		// Mutations are rate limited per user
		r.Group(func(r chi.Router) {
			if rt.limiter != nil {
				r.Use(rt.limiter.Middleware)
			}

			r.Post("/friends/requests", rt.friendHandler.SendRequest)
			r.Delete("/friends/requests/{userID}", rt.friendHandler.CancelRequest)
			r.Post("/friends/requests/{userID}/accept", rt.friendHandler.AcceptRequest)
			r.Post("/friends/requests/{userID}/reject", rt.friendHandler.RejectRequest)
			r.Delete("/friends/{userID}", rt.friendHandler.RemoveFriend)

			r.Post("/groups", rt.groupHandler.CreateGroup)
			r.Post("/groups/{groupID}/join", rt.groupHandler.Join)
			r.Post("/groups/{groupID}/leave", rt.groupHandler.Leave)
			r.Post("/groups/{groupID}/members/{userID}/actions", rt.groupHandler.MemberAction)

			r.Post("/realtime/logout", rt.realtimeHandler.Logout)
		})
	})

	return r
}
