package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/care-coordinator-ai/internal/conversation"
	httpmiddleware "github.com/wolfman30/care-coordinator-ai/internal/http/middleware"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	CacheHandler        *patient.CacheHandler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// AdminAuthSecret guards the cache routes when non-empty.
	AdminAuthSecret string

	// ChatRateLimiter throttles the model-backed routes when set.
	ChatRateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		if cfg.ConversationHandler != nil {
			public.Get("/health", cfg.ConversationHandler.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Routes that call the completion provider
	if cfg.ConversationHandler != nil {
		r.Group(func(chat chi.Router) {
			if cfg.ChatRateLimiter != nil {
				chat.Use(httpmiddleware.RateLimit(cfg.ChatRateLimiter))
			}
			chat.Post("/chat", cfg.ConversationHandler.Chat)
			chat.Post("/conversation/start", cfg.ConversationHandler.StartConversation)
			chat.Get("/patient/{patientID}/summary", cfg.ConversationHandler.Summary)
		})
	}

	// Cache administration
	if cfg.CacheHandler != nil {
		r.Route("/cache", func(admin chi.Router) {
			if cfg.AdminAuthSecret != "" {
				admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			}
			admin.Post("/clear", cfg.CacheHandler.Clear)
			admin.Get("/stats", cfg.CacheHandler.Stats)
		})
	}

	return r
}
