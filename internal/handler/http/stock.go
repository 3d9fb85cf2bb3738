package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/service"
	"github.com/NurzhauganovA/galmart/pkg/httputil"
	"github.com/NurzhauganovA/galmart/pkg/validator"
)

// StockHandler handles the administrative stock endpoints.
type StockHandler struct {
	service *service.ReservationService
	logger  *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(svc *service.ReservationService, logger *slog.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  logger,
	}
}

// SetStockRequest is the JSON request body for the on-hand override.
type SetStockRequest struct {
	OnHand int `json:"on_hand" validate:"gte=0"`
}

// StockResponse augments the stock row with the derived availability.
type StockResponse struct {
	*domain.Stock
	Available int `json:"available"`
}

func parseProductID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "productID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "invalid_parameter", Message: "invalid product ID: " + raw},
		})
		return 0, false
	}
	return id, true
}

// Get handles GET /api/v1/stock/{productID}
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseProductID(w, r)
	if !ok {
		return
	}

	stock, err := h.service.GetStock(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: StockResponse{Stock: stock, Available: stock.Available()},
	})
}

// Set handles PUT /api/v1/stock/{productID}
func (h *StockHandler) Set(w http.ResponseWriter, r *http.Request) {
	productID, ok := parseProductID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SetStockRequest
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

	stock, err := h.service.SetOnHand(r.Context(), productID, req.OnHand)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: StockResponse{Stock: stock, Available: stock.Available()},
	})
}
