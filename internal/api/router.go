package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/auth"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/geo"
	"github.com/hackgods/geo-appointment-scheduling/internal/metrics"
)

type RouterConfig struct {
	Bookings   *appointment.Service
	Calendar   calendar.Calendar
	Geo        geo.Index
	Profiles   DoctorProfiles
	Verifier   *auth.Verifier
	Health     *HealthHandler
	GeoMetrics *metrics.GeoMetrics
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	doctorOnly := auth.RequireRole(writeError, auth.RoleDoctor)
	patientOnly := auth.RequireRole(writeError, auth.RolePatient)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Verifier, writeError))

		r.Get("/doctors/search", searchDoctorsHandler(cfg.Geo, cfg.GeoMetrics))
		r.Get("/doctors/{id}/slots", listSlotsHandler(cfg.Calendar))
		r.With(doctorOnly).Put("/doctors/me/location", updateLocationHandler(cfg.Profiles, cfg.Geo))
		r.With(doctorOnly).Post("/doctors/me/slots", publishSlotsHandler(cfg.Calendar))

		r.With(patientOnly).Post("/appointments", createAppointmentHandler(cfg.Bookings))
		r.Get("/appointments", listAppointmentsHandler(cfg.Bookings))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Bookings))
		r.With(doctorOnly).Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Bookings))
		r.With(doctorOnly).Post("/appointments/{id}/reject", rejectAppointmentHandler(cfg.Bookings))
		r.With(doctorOnly).Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Bookings))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Bookings))
		r.With(auth.RequireRole(writeError, auth.RoleDoctor, auth.RoleSystem)).
			Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Bookings))
	})

	return r
}
