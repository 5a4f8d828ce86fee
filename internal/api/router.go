package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"nfeimport/internal/middleware"
	"nfeimport/internal/pipeline"
)

// NewRouter wires the HTTP surface over a shared processor. Middleware order
// matters: recover -> requestID -> logging.
func NewRouter(proc *pipeline.Processor, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(logger))

	h := &Handler{proc: proc, logger: logger}

	r.Get("/health", h.Health)
	r.Post("/api/process", h.Process)
	r.Get("/api/runs", h.ListRuns)
	r.Get("/api/runs/{id}", h.ShowRun)
	r.Post("/api/manual-match", h.ManualMatch)
	r.Post("/api/reload-catalog", h.ReloadCatalog)

	return r
}
