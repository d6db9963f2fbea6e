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
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/live", func(r chi.Router) {
			r.Get("/", s.handleGetLive)
			r.Put("/", s.handleSetLive)
			r.Delete("/", s.handleClearLive)
			r.Post("/retry", s.handleRetryLive)
			r.Get("/stats", s.handleLiveStats)
			r.Get("/events", s.handleListEvents)
		})
	})

	return r
}

// handleHealth returns the server health and the live channel phase.
// The status is "degraded" while the channel is not subscribed; the HTTP
// status stays 200 so the endpoint doubles as a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.channel.HealthCheck(r.Context()); err != nil {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"live":    s.channel.State().Phase,
	})
}
