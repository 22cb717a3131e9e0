package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/marketplace-catalog/internal/service"
)

// CreateDiscount регистрирует скидку текущего продавца.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.DiscountInput
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.service.CreateDiscount(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, "create discount error", err)
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// GetDiscount возвращает скидку владельцу.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	d, err := h.service.GetDiscount(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get discount error", err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

type discountActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// SetDiscountActive включает или выключает скидку.
func (h *Handler) SetDiscountActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req discountActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		http.Error(w, "is_active is required", http.StatusBadRequest)
		return
	}

	if err := h.service.SetDiscountActive(r.Context(), actor, chi.URLParam(r, "id"), *req.IsActive); err != nil {
		h.writeError(w, "set discount active error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteDiscount удаляет скидку и убирает её из корзин всех товаров.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteDiscount(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, "delete discount error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ApplyDiscount привязывает скидку к товару.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	err := h.service.ApplyDiscountToProduct(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, "apply discount error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveDiscount отвязывает скидку от товара.
func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	err := h.service.RemoveDiscountFromProduct(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, "remove discount error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
