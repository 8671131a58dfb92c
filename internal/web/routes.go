package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	recognizeHandler := handlers.NewRecognizeHandler(s.deps.Pipeline, s.deps.Log)
	templatesHandler := handlers.NewTemplatesHandler(s.deps.Store, s.deps.Model, s.deps.Log)
	employeesHandler := handlers.NewEmployeesHandler(s.deps.Employees, s.deps.Store, s.deps.Log)
	candidatesHandler := handlers.NewCandidatesHandler(s.deps.Index, s.deps.Store, s.deps.Model, s.deps.Log)
	statsHandler := handlers.NewStatsHandler(s.deps.Store)
	configHandler := handlers.NewConfigHandler(s.config)
	healthHandler := handlers.NewHealthHandler(s.deps.Model, s.deps.Store)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", healthHandler.Get)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Kiosk endpoint, authenticated by the shared device key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireDeviceKey(s.config.Auth.DeviceKey))
			r.Post("/attendance/recognize", recognizeHandler.Recognize)
		})

		// Administration, authenticated by JWT.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.config.Auth.JWTSecret))

			// Roster
			r.Get("/employees", employeesHandler.List)
			r.Get("/employees/{id}", employeesHandler.Get)
			r.Put("/employees/{id}", employeesHandler.Put)
			r.Delete("/employees/{id}", employeesHandler.Delete)

			// Templates
			r.Post("/employees/{id}/templates/primary", templatesHandler.EnrollPrimary)
			r.Get("/employees/{id}/templates", templatesHandler.List)
			r.Delete("/employees/{id}/templates/{slot}", templatesHandler.DeleteSlot)

			// Diagnostics
			r.Post("/candidates", candidatesHandler.Find)
			r.Post("/candidates/rebuild-index", candidatesHandler.RebuildIndex)
			r.Get("/stats", statsHandler.Get)
			r.Get("/config", configHandler.Get)
		})
	})
}
