package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig bundles handler dependencies.
type RouterConfig struct {
	SearchQueryHandler *SearchQueryHandler
	CommandHandler     *CommandHandler
	HealthHandler      *HealthHandler

	APIBasePath string
	Middlewares []func(http.Handler) http.Handler
	// CommandAuth guards the command routes only.
	CommandAuth       func(http.Handler) http.Handler
	PrometheusHandler http.Handler
}

// NewRouter wires handlers and middlewares.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	for _, mw := range cfg.Middlewares {
		if mw == nil {
			continue
		}
		r.Use(mw)
	}

	if cfg.PrometheusHandler != nil {
		r.Handle("/metrics", cfg.PrometheusHandler)
	}

	apiBasePath := normalizeAPIBasePath(cfg.APIBasePath)
	if apiBasePath == "" {
		apiBasePath = "/"
	}
	r.Route(apiBasePath, func(api chi.Router) {
		if cfg.SearchQueryHandler != nil {
			cfg.SearchQueryHandler.RegisterRoutes(api)
		}
		if cfg.CommandHandler != nil {
			api.Group(func(cmd chi.Router) {
				if cfg.CommandAuth != nil {
					cmd.Use(cfg.CommandAuth)
				}
				cfg.CommandHandler.RegisterRoutes(cmd)
			})
		}
		if cfg.HealthHandler != nil {
			api.Get("/health", cfg.HealthHandler.ServeHTTP)
		}
	})
	return r
}
