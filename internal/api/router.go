package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// The feed authenticates with a ticket, not a bearer header.
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.writeScopeMiddleware)

				r.Get("/metrics", s.handleMetrics)
				r.Get("/state", s.handleState)

				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Route("/{name}", func(r chi.Router) {
						r.Get("/", s.handleGetUser)
						r.Post("/", s.handleAddUser)
						r.Delete("/", s.handleRemoveUser)
					})
				})

				r.Route("/topics", func(r chi.Router) {
					r.Get("/", s.handleListTopics)
					r.Route("/{name}", func(r chi.Router) {
						r.Post("/", s.handleAddTopic)
						r.Delete("/", s.handleRemoveTopic)
						r.Put("/subscription", s.handleSubscribe)
						r.Delete("/subscription", s.handleUnsubscribe)
					})
				})

				r.Post("/presence/poll", s.handlePoll)

				r.Post("/session/login", s.handleLogin)
				r.Post("/session/logout", s.handleLogout)

				r.Post("/messages/private", s.handleSendPrivate)
				r.Post("/messages/topic", s.handleSendTopic)

				r.Get("/events", s.handleListEvents)
				r.Get("/queues", s.handleQueues)
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports liveness plus the session's own health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	var detail string
	if err := s.session.HealthCheck(r.Context()); err != nil {
		status, code, detail = "degraded", http.StatusServiceUnavailable, err.Error()
	}
	body := map[string]any{
		"status":  status,
		"version": s.version,
		"role":    s.session.Role(),
	}
	if detail != "" {
		body["error"] = detail
	}
	writeJSON(w, code, body)
}
