package service

import (
	"compress/flate"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	slogchi "github.com/samber/slog-chi"

	"github.com/btnmasher/fairshare/internal/shared"
)

// NewRouter wires the chi middleware stack the teacher binary uses
// (Recoverer, RealIP, compression, request logging) and mounts the
// scheduler's HTTP surface under /player/{name}.
func NewRouter(logger *slog.Logger, manager *Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		shared.RealIP,
		middleware.Compress(flate.DefaultCompression),
		slogchi.NewWithFilters(
			logger.With("service", "http"),
			slogchi.IgnoreStatus(http.StatusNoContent),
		),
		InjectLogger(logger),
		InjectManager(manager),
	)

	r.Route("/player/{name}", func(pr chi.Router) {
		pr.Get("/queue", HandleQueue)
		pr.Post("/vote", HandleVote)
		pr.Post("/remove", HandleRemove)
		pr.Post("/clear", HandleClear)
		pr.Get("/sse", HandleSSE)
	})

	return r
}
