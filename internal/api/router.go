package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/metrics"
)

// RouterConfig wires the HTTP surface. Backend is the store-backed service on
// the resource tier and the proxy client on the BFF tier.
type RouterConfig struct {
	Backend        appointment.Backend
	Health         *HealthHandler
	Metrics        *metrics.Collector
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)
	r.Use(MetricsMiddleware(cfg.Metrics))

	// Health endpoints
	health := cfg.Health
	if health == nil {
		health = NewHealthHandler("", "")
	}
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))

		r.Get("/", listAppointmentsHandler(cfg.Backend, cfg.Metrics))
		r.Post("/", createAppointmentHandler(cfg.Backend, cfg.Metrics))
		r.Get("/{id}", getAppointmentHandler(cfg.Backend, cfg.Metrics))
		r.Put("/{id}", updateAppointmentHandler(cfg.Backend, cfg.Metrics))
		r.Delete("/{id}", deleteAppointmentHandler(cfg.Backend, cfg.Metrics))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Backend, cfg.Metrics))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Envelope[any]{Message: "Route not found"})
	})

	return r
}
