package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/ciro-tutor/internal/chat"
	httpmiddleware "github.com/wolfman30/ciro-tutor/internal/http/middleware"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *chat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-client limit on the chat endpoints; zero disables it.
	ChatRateLimit float64
	ChatRateBurst int

	// Ends background work owned by middleware (rate limiter eviction).
	Context context.Context
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.ChatHandler == nil {
		panic("router: chat handler required")
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.ChatHandler.HandleHealth)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Chat endpoints, also served under /api
	limit := httpmiddleware.RateLimit(ctx, cfg.ChatRateLimit, cfg.ChatRateBurst)
	chatRoutes := func(r chi.Router) {
		r.Use(limit)
		r.Post("/chat", cfg.ChatHandler.HandleChat)
		r.Get("/chat/ws", cfg.ChatHandler.HandleWebSocket)
		r.Get("/chat/{sessionID}/history", cfg.ChatHandler.HandleHistory)
		r.Post("/agent/{agentID}", cfg.ChatHandler.HandleAgent)
		r.Get("/sessions", cfg.ChatHandler.HandleSessions)
		r.Get("/sessions/{sessionID}", cfg.ChatHandler.HandleSession)
	}
	r.Group(chatRoutes)
	r.Route("/api", func(api chi.Router) {
		api.Get("/health", cfg.ChatHandler.HandleHealth)
		api.Group(chatRoutes)
	})

	return r
}
