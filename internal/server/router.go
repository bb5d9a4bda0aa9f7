package server

import (
	"net/http"

	"github.com/cloo-solutions/tenderwise/internal/api"
	"github.com/cloo-solutions/tenderwise/internal/api/handlers"
	"github.com/cloo-solutions/tenderwise/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	AnalysisHandler *handlers.AnalysisHandler
	// MaxBodyBytes defaults to 5MB. Proposal text is posted inline, so
	// deployments may raise it.
	MaxBodyBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes == 0 {
		maxBodyBytes = 5 * 1024 * 1024
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", cfg.DocumentHandler.Upsert)
		r.Get("/", cfg.DocumentHandler.List)
		r.Post("/{id}/ingest", cfg.DocumentHandler.Ingest)
		r.Delete("/{id}/chunks", cfg.DocumentHandler.DeleteChunks)
	})

	r.Post("/retrieve", cfg.AnalysisHandler.Retrieve)
	r.Post("/generate", cfg.AnalysisHandler.Generate)
	r.Post("/evaluate", cfg.AnalysisHandler.Evaluate)
	r.Post("/draft", cfg.AnalysisHandler.Draft)

	return r
}
