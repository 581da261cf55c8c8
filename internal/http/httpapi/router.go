package httpapi

import (
	stdhttp "net/http"

	"server/internal/http/handlers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(app *handlers.App, registry *prometheus.Registry) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.JobsCreate)
		r.Get("/stats", app.JobsStats)
		r.Get("/{id}", app.JobStatus)
	})

	r.Route("/v1/worker", func(r chi.Router) {
		r.Get("/tick", app.WorkerTick)
		r.Get("/sweep", app.WorkerSweep)
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}
