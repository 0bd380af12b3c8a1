// Package api exposes the importer over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/pricepaid-importer/internal/api/handlers"
	"github.com/dvloznov/pricepaid-importer/internal/api/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Imports *handlers.ImportsHandler
	Periods *handlers.PeriodsHandler
	Jobs    *handlers.JobsHandler

	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the chi router with the standard middleware chain.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "Not found")
	})

	r.Get("/healthz", handlers.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/imports", h.Imports.StartImport)
		r.Get("/imports/last", h.Imports.LastImport)

		r.Get("/periods", h.Periods.ListPeriods)
		r.Get("/periods/{period}", h.Periods.GetPeriod)

		r.Get("/jobs", h.Jobs.ListJobs)
		r.Get("/jobs/{id}", h.Jobs.GetJob)
	})

	return r
}
