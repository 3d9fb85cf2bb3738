package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/NurzhauganovA/galmart/internal/service"
	"github.com/NurzhauganovA/galmart/pkg/httputil"
	"github.com/NurzhauganovA/galmart/pkg/pagination"
	"github.com/NurzhauganovA/galmart/pkg/validator"
)

// ReservationHandler handles HTTP requests for reservation endpoints.
type ReservationHandler struct {
	service *service.ReservationService
	logger  *slog.Logger
}

// NewReservationHandler creates a new reservation HTTP handler.
func NewReservationHandler(svc *service.ReservationService, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{
		service: svc,
		logger:  logger,
	}
}

// CreateReservationRequest is the JSON request body for creating a reservation.
type CreateReservationRequest struct {
	ProductID    int64             `json:"product_id" validate:"required,gt=0"`
	Quantity     int               `json:"quantity" validate:"required,gte=1"`
	CustomerInfo map[string]string `json:"customer_info" validate:"omitempty,max=32"`
}

// Create handles POST /api/v1/reservations
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "invalid_input", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	reservation, err := h.service.Create(r.Context(), service.CreateInput{
		UserID:         UserFromContext(r.Context()),
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		CustomerInfo:   req.CustomerInfo,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: reservation})
}

// Confirm handles POST /api/v1/reservations/{id}/confirm
func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	reservation, err := h.service.Confirm(r.Context(), id, UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: reservation})
}

// Cancel handles POST /api/v1/reservations/{id}/cancel
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	reservation, err := h.service.Cancel(r.Context(), id, UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: reservation})
}

// Get handles GET /api/v1/reservations/{id}
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	reservation, err := h.service.Get(r.Context(), id, UserFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: reservation})
}

// List handles GET /api/v1/reservations?status=&page=&per_page=
func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	status := r.URL.Query().Get("status")

	reservations, total, err := h.service.List(r.Context(), UserFromContext(r.Context()), status, params.PerPage, params.Offset)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(reservations, total, params))
}
