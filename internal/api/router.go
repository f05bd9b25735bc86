package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Health check is exempt from rate limiting so orchestrator probes
	// never get throttled out.
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		r.Get("/stats", s.handleStats)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/latest", s.handleDeviceLatest)
				r.Get("/history", s.handleDeviceHistory)
				r.Get("/changes", s.handleDeviceChanges)
			})
		})
	})

	r.Get(s.wsCfg.Path, s.handleWebSocket)

	return r
}
