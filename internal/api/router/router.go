package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yojigen/ai-secretary/internal/http/handlers"
	httpmiddleware "github.com/yojigen/ai-secretary/internal/http/middleware"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	LineWebhook    *handlers.LineWebhookHandler
	AdminRevisions *handlers.AdminRevisionsHandler
	AdminJWTSecret string
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.HealthCheck)
		if cfg.LineWebhook != nil {
			public.Post("/webhooks/line", cfg.LineWebhook.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Admin endpoints (JWT protected)
	if cfg.AdminRevisions != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			admin.Get("/revisions/{yearMonth}/stats", cfg.AdminRevisions.Stats)
			admin.Get("/revisions/{yearMonth}/export", cfg.AdminRevisions.Export)
		})
	}

	return r
}
