package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apiMiddleware "github.com/phrazzld/jobstream/internal/api/middleware"
	"github.com/phrazzld/jobstream/internal/api/shared"
	"github.com/phrazzld/jobstream/internal/resilience"
)

// NewRouter registers every route and the shared middleware chain.
func NewRouter(jobs *JobHandler, breakers *resilience.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", jobs.CreateJob)
		r.Get("/{id}", jobs.GetJob)
		r.Delete("/{id}", jobs.CancelJob)
		r.Get("/{id}/events", jobs.StreamEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
	})

	r.Get("/debug/breakers", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, breakers.Snapshot())
	})

	return r
}
