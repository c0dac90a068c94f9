// Package api serves the price store, issue tracker and catalog sync
// over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}/prices", h.GetPriceHistory)

		r.Route("/issues", func(r chi.Router) {
			r.Get("/", h.ListIssues)
			r.Get("/summary", h.IssueSummary)
			r.Post("/auto-handle", h.AutoHandleIssues)
			r.Post("/{id}/resolve", h.ResolveIssue)
			r.Post("/{id}/reactivate", h.ReactivateIssue)
		})

		r.Post("/catalog/sync", h.SyncCatalog)
		r.Get("/cache", h.GetCacheEntry)
	})

	return r
}
