package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/stats", s.HandleStats)
		r.Get("/state", s.HandleState)
		r.Get("/readings", s.HandleExportReadings)
		r.Get("/transmissions", s.HandleListTransmissions)
	})
}
