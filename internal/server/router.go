package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orin-labs/uciagent/internal/api"
	"github.com/orin-labs/uciagent/internal/api/handlers"
	"github.com/orin-labs/uciagent/internal/api/middleware"
)

type RouterConfig struct {
	ScriptHandler *handlers.ScriptHandler
	SyncHandler   *handlers.SyncHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/scripts", func(r chi.Router) {
		r.Post("/", cfg.ScriptHandler.Submit)
		r.Get("/{id}", cfg.ScriptHandler.Get)
		r.Post("/{id}/run", cfg.ScriptHandler.Run)
	})

	r.Post("/sync", cfg.SyncHandler.Sync)
	r.Post("/ingest", cfg.SyncHandler.Ingest)

	return r
}
