package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

type createOrderRequest struct {
	Items         []model.OrderItem   `json:"items"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
}

// CreateOrder оформляет заказ текущего покупателя. На каждую позицию создаётся
// отдельная строка заказа.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	orders, err := h.service.CreateOrder(r.Context(), actor, req.Items, req.PaymentMethod)
	if err != nil {
		h.writeError(w, "create order error", err)
		return
	}

	writeJSON(w, http.StatusCreated, orders)
}

type orderTransition func(ctx context.Context, actor model.Principal, orderID string) (*model.Order, error)

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request, msg string, transition orderTransition) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	o, err := transition(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, msg, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// AcceptOrder подтверждает заказ продавцом.
func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, "accept order error", h.service.AcceptOrder)
}

// RefuseOrder отклоняет заказ продавцом и возвращает остаток.
func (h *Handler) RefuseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, "refuse order error", h.service.RefuseOrder)
}

// CancelOrder отменяет заказ покупателем.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, "cancel order error", h.service.CancelOrder)
}
