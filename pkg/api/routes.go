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

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.cfg.API.RateLimit.Enabled {
		r.Use(s.rateLimitMiddleware())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/formats", s.handleFormats)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth, s.requireWriter)
				r.Post("/", s.handleCreateProject)
			})

			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Get("/history", s.handleHistory)
				r.Get("/alerts", s.handleListAlerts)

				r.Group(func(r chi.Router) {
					r.Use(s.requireAuth)

					r.With(s.requireWriter).
						Post("/reports", s.handleSubmitReport)
					r.With(s.requireWriter).
						Post("/thresholds", s.handleCreateThreshold)

					r.Route("/reports/{runID}/artifacts", func(r chi.Router) {
						r.With(s.requireWriter).
							Post("/upload-url", s.handleArtifactUploadURL)
						r.With(s.requireWriter).
							Post("/confirm", s.handleArtifactConfirm)
						r.Get("/", s.handleListArtifacts)
					})
				})
			})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{
			"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS",
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.API.AllowedOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
