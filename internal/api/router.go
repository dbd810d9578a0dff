package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruslano69/glyte/pkg/dashboard"
	"github.com/ruslano69/glyte/pkg/engine"
)

// NewRouter wires the dashboard service into the chi router.
func NewRouter(svc *dashboard.Service, eng engine.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(zerologMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	h := &dashboardsHandler{svc: svc}

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(eng))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Post("/upload/confirm", h.ConfirmUpload)
		r.Get("/columns", h.Columns)

		r.Route("/dashboards", func(r chi.Router) {
			r.Get("/", h.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Delete("/", h.Delete)
				r.Get("/versions", h.Versions)
				r.Get("/export", h.Export)
				r.Post("/query", h.Query)
			})
		})
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings the query engine to confirm the service is ready.
func handleReadyz(eng engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"engine": "ok"}
		status := http.StatusOK

		if err := eng.Ping(r.Context()); err != nil {
			checks["engine"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, checks)
	}
}
