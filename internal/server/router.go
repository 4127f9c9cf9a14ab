package server

import (
	"net/http"

	"github.com/engramhq/engram/internal/api"
	"github.com/engramhq/engram/internal/api/handlers"
	"github.com/engramhq/engram/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	APIKey          string
	DocumentHandler *handlers.DocumentHandler
	QueryHandler    *handlers.QueryHandler
	ChunksHandler   *handlers.ChunksHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 32 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKey))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentHandler.Submit)
			r.Get("/", cfg.DocumentHandler.List)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
			r.Post("/{id}/process", cfg.DocumentHandler.Process)
			r.Get("/{id}/download", cfg.DocumentHandler.DownloadURL)
		})

		r.Post("/query", cfg.QueryHandler.Query)
		r.Post("/search", cfg.QueryHandler.Search)
		r.Get("/chunks", cfg.ChunksHandler.List)
	})

	return r
}
