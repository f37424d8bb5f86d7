package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Progress stream; long-lived, so outside the rate limit.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(s.cfg.RateLimit.RequestsPerMinute))
			}

			r.Get("/sources", s.handleListSources)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", s.handleListProducts)
				r.Get("/{source}/{sku}", s.handleGetProduct)
				r.Get("/{source}/{sku}/history", s.handleProductHistory)
			})

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Get("/current", s.handleCurrentRun)
				r.Get("/{id}", s.handleGetRun)

				// Starting and cancelling runs may require an admin token.
				r.Group(func(r chi.Router) {
					r.Use(s.requireAdminToken)

					r.Post("/", s.handleTriggerRun)
					r.Delete("/{id}", s.handleCancelRun)
				})
			})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}

	return cors.Handler(opts)
}
