/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the loading frontend

ROUTE GROUPS:
  /api/flight, /api/flights/*   Flight loading and import
  /api/layout/*                 Interactive editing
  /api/optimize/*               Exact and heuristic optimizers
  /api/layouts/*                Persisted optimizer layouts
  /api/presets/*                Embedded preset flights
  /healthz                      Liveness
  /metrics                      Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are used when no CORS origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        http.Handler // mounted at /metrics when set
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/flight", h.LoadFlight)

		// Flight routes
		r.Route("/flights", func(r chi.Router) {
			r.Post("/", h.ImportFlight)
			r.Get("/{code}", h.GetFlight)
		})

		// Layout editing routes
		r.Route("/layout", func(r chi.Router) {
			r.Get("/", h.GetLayout)
			r.Delete("/", h.ClearLayout)
			r.Post("/assign", h.Assign)
			r.Post("/unassign", h.Unassign)
			r.Post("/swap", h.Swap)
			r.Post("/move", h.Move)
			r.Post("/swap-slots", h.SwapSlots)
			r.Post("/reset", h.ResetLayout)
			r.Get("/recent", h.GetRecent)
			r.Post("/recent/ack", h.AcknowledgeRecent)
		})

		// Optimizer routes
		r.Route("/optimize", func(r chi.Router) {
			r.Post("/", h.Optimize)
			r.Post("/heuristic", h.OptimizeHeuristic)
		})
		r.Get("/layouts/{jobID}", h.GetSavedLayout)

		// Preset routes
		r.Route("/presets", func(r chi.Router) {
			r.Get("/", h.ListPresets)
			r.Post("/{code}/restore", h.RestorePreset)
		})
	})

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	return r
}
