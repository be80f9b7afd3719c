package server

import (
	"net/http"

	"github.com/finclaw/agentd/internal/api/handlers"
	"github.com/finclaw/agentd/internal/api/middleware"
	"github.com/finclaw/agentd/internal/ratelimit"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	IdentityResolver middleware.IdentityResolver
	AgentLimiter     *ratelimit.Limiter
	PublicLimiter    *ratelimit.Limiter
	AgentHandler     *handlers.AgentHandler
	KnowledgeHandler *handlers.KnowledgeHandler
	SessionHandler   *handlers.SessionHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/agent/health", cfg.AgentHandler.Health)

	// Anonymous surface: its own limiter keyed by client IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.PublicLimiter, middleware.IPKey))
		r.Post("/agent/public", cfg.AgentHandler.PublicChat)
	})

	// Authenticated surface: auth resolves the caller first so the limiter
	// keys on user id, not IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.IdentityResolver))
		r.Use(middleware.RateLimit(cfg.AgentLimiter, middleware.UserKey))

		r.Post("/agent", cfg.AgentHandler.Chat)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", cfg.SessionHandler.List)
			r.Get("/{id}/messages", cfg.SessionHandler.Messages)
			r.Post("/{id}/export", cfg.SessionHandler.Export)
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/", cfg.KnowledgeHandler.Create)
			r.Get("/", cfg.KnowledgeHandler.List)
			r.Get("/{id}", cfg.KnowledgeHandler.Get)
			r.Put("/{id}/metadata", cfg.KnowledgeHandler.UpdateMetadata)
		})
	})

	return r
}
