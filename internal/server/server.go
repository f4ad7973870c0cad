// Package server exposes the order core over HTTP. Identity verification
// happens upstream; the authenticated principal arrives in the
// X-Buyer-ID / X-Seller-ID headers.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/metrics"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/orders"
)

type Server struct {
	orders *orders.Service
}

func New(ordersSvc *orders.Service) *Server {
	return &Server{orders: ordersSvc}
}

// RegisterRoutes wires all handlers onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /orders", s.createOrder)
	mux.HandleFunc("GET /orders/{id}", s.getOrder)
	mux.HandleFunc("POST /orders/{id}/cancel", s.cancelOrder)
	mux.HandleFunc("PATCH /orders/{id}/payment", s.setPaymentStatus)
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing X-Buyer-ID header"})
		return
	}

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	order, err := s.orders.Create(r.Context(), principal, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing X-Buyer-ID header"})
		return
	}

	orderID := r.PathValue("id")
	if err := s.orders.Cancel(r.Context(), principal, orderID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "status": models.OrderCancelled})
}

func (s *Server) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	orderID := r.PathValue("id")
	if err := s.orders.SetPaymentStatus(r.Context(), orderID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "paymentStatus": req.Status})
}

func principalFrom(r *http.Request) (models.Principal, bool) {
	buyerID := r.Header.Get("X-Buyer-ID")
	if buyerID == "" {
		return models.Principal{}, false
	}
	return models.Principal{BuyerID: buyerID, SellerID: r.Header.Get("X-Seller-ID")}, true
}

// writeError maps the error taxonomy onto status codes. Anything outside the
// taxonomy is a persistence failure and surfaces as a generic 500 so no
// internal detail leaks.
func writeError(w http.ResponseWriter, err error) {
	var ve *apperr.ValidationError
	var ce *apperr.ConflictError
	var se *apperr.StateError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error()})
	case errors.Is(err, apperr.ErrItemNotFound), errors.Is(err, apperr.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": err.Error()})
	case errors.As(err, &ce),
		errors.Is(err, apperr.ErrInsufficientStock),
		errors.Is(err, apperr.ErrItemUnavailable):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.As(err, &se):
		writeJSON(w, http.StatusConflict, map[string]any{"error": se.Error()})
	default:
		log.Error().Err(err).Msg("Request failed with storage error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
