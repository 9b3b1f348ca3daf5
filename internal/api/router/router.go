package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fluxion/voice-agent/internal/http/handlers"
	httpmiddleware "github.com/fluxion/voice-agent/internal/http/middleware"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger  *logging.Logger
	Version string

	Voice    *handlers.VoiceHandler
	Sessions *handlers.SessionsHandler
	// Stream serves the live turn websocket; nil disables it.
	Stream         http.Handler
	MetricsHandler http.Handler

	// JWTSecret protects /api/voice when set.
	JWTSecret          string
	CORSAllowedOrigins []string
	// RateLimiter throttles /api/voice per client; nil disables it.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	// Probes stay outside auth and rate limiting.
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health(cfg.Version))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api/voice", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		api.Use(httpmiddleware.BearerJWT(cfg.JWTSecret))

		if v := cfg.Voice; v != nil {
			api.Post("/greet", v.HandleGreet)
			api.Post("/process", v.HandleProcess)
			api.Post("/say", v.HandleSay)
			api.Post("/reset", v.HandleReset)
			api.Get("/status", v.HandleStatus)
		}
		if s := cfg.Sessions; s != nil {
			api.Get("/analytics", s.HandleAnalytics)
			api.Get("/sessions/{id}", s.HandleSession)
		}
		if cfg.Stream != nil {
			api.Handle("/stream", cfg.Stream)
		}
	})

	return r
}
