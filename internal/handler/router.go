package handler

import (
	"net/http"

	"github.com/dandantas/nyxmon/pkg/middleware"
	"github.com/go-chi/chi/v5"
)

// Router handles HTTP routing
type Router struct {
	checkHandler   *CheckHandler
	serviceHandler *ServiceHandler
	healthHandler  *HealthHandler
	stream         *StreamHub
	corsConfig     middleware.CORSConfig
}

// NewRouter creates a new router
func NewRouter(
	checkHandler *CheckHandler,
	serviceHandler *ServiceHandler,
	healthHandler *HealthHandler,
	stream *StreamHub,
	corsConfig middleware.CORSConfig,
) *Router {
	return &Router{
		checkHandler:   checkHandler,
		serviceHandler: serviceHandler,
		healthHandler:  healthHandler,
		stream:         stream,
		corsConfig:     corsConfig,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(rt.corsConfig))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", rt.healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/services", func(r chi.Router) {
			r.Get("/", rt.serviceHandler.List)
			r.Post("/", rt.serviceHandler.Create)
			r.Get("/{id}", rt.serviceHandler.Get)
		})

		r.Route("/checks", func(r chi.Router) {
			r.Get("/", rt.checkHandler.List)
			r.Post("/", rt.checkHandler.Create)
			r.Get("/{id}", rt.checkHandler.Get)
			r.Delete("/{id}", rt.checkHandler.Delete)
			r.Post("/{id}/run", rt.checkHandler.Run)
			r.Get("/{id}/results", rt.checkHandler.Results)
		})

		if rt.stream != nil {
			r.Get("/stream", rt.stream.ServeHTTP)
		}
	})

	return r
}
