package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/ferrobot-core/internal/auth"
)

// buildRouter mounts the v1 API. Health is open; everything else needs the
// read scope, and commanding a device needs control.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.requestID,
		s.accessLog,
		s.recoverPanics,
		s.cors,
		middleware.RequestSize(maxRequestBodySize),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScope(auth.ScopeRead))

			r.Get("/metrics", s.handleMetrics)
			r.Get("/ws", s.handleWebSocket)

			r.Get("/devices", s.handleListDevices)
			r.Route("/devices/{kind}/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/journal", s.handleDeviceJournal)
				r.With(s.requireScope(auth.ScopeControl)).Post("/command", s.handleDeviceCommand)
			})

			r.Get("/journal", s.handleListJournal)
			r.Get("/journal/modes", s.handleListModes)
		})
	})

	return r
}
