package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"willsave/internal/handler"
	"willsave/internal/logger"
	"willsave/internal/middleware"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	CurrencyHandler *handler.CurrencyHandler
	TollHandler     *handler.TollHandler
	BlockHandler    *handler.BlockHandler
	SettingsHandler *handler.SettingsHandler
	WatcherHandler  *handler.WatcherHandler
	AuthMiddleware  func(http.Handler) http.Handler
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	log := logger.OrNop(cfg.Logger).Named("HTTP")
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(cors.Handler(cors.Options{
		// Extension pages call in from their own origins.
		AllowedOrigins:   []string{"chrome-extension://*", "moz-extension://*", "http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", "X-Tab-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			if cfg.CurrencyHandler != nil {
				r.Get("/currency", cfg.CurrencyHandler.GetCurrency)
				r.Post("/currency/refresh", cfg.CurrencyHandler.RefreshCurrency)
				r.Get("/session", cfg.CurrencyHandler.GetSession)
			}

			if cfg.TollHandler != nil {
				r.Route("/toll", func(r chi.Router) {
					r.Get("/", cfg.TollHandler.View)
					r.Post("/pay", cfg.TollHandler.Pay)
					r.Post("/mine", cfg.TollHandler.Mine)
					r.Post("/redirect", cfg.TollHandler.Redirect)
				})
			}

			if cfg.BlockHandler != nil {
				r.Get("/block", cfg.BlockHandler.Check)
				r.Get("/block/stream", cfg.BlockHandler.Stream)
			}

			if cfg.SettingsHandler != nil {
				r.Route("/settings", func(r chi.Router) {
					r.Get("/", cfg.SettingsHandler.Get)
					r.Put("/", cfg.SettingsHandler.Put)
					r.Get("/suggestions", cfg.SettingsHandler.Suggestions)
				})
			}

			if cfg.WatcherHandler != nil {
				r.Post("/watcher/snapshot", cfg.WatcherHandler.Snapshot)
			}
		})
	})

	return r
}
