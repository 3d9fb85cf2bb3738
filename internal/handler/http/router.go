package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NurzhauganovA/galmart/internal/service"
	"github.com/NurzhauganovA/galmart/pkg/health"
	"github.com/NurzhauganovA/galmart/pkg/middleware"
)

// NewRouter creates a chi router with all reservation service routes registered.
func NewRouter(
	reservationService *service.ReservationService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("reservation"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	reservationHandler := NewReservationHandler(reservationService, logger)
	stockHandler := NewStockHandler(reservationService, logger)

	r.Route("/api/v1/reservations", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(RequireUser)

		r.Post("/", reservationHandler.Create)
		r.Get("/", reservationHandler.List)
		r.Get("/{id}", reservationHandler.Get)
		r.Post("/{id}/confirm", reservationHandler.Confirm)
		r.Post("/{id}/cancel", reservationHandler.Cancel)
	})

	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/{productID}", stockHandler.Get)
		r.Put("/{productID}", stockHandler.Set)
	})

	return r
}
