package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Get("/history", s.getHistory)
			r.Post("/message", s.sendMessage) // Streaming response
			r.Put("/model", s.setModel)
		})
	})

	// Permission replies from an attached UI
	r.Post("/permission/{permissionID}", s.respondPermission)

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
