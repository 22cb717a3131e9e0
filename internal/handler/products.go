package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/service"
)

// CreateProduct публикует товар текущего продавца.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.ProductInput
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.CreateProduct(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, "create product error", err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// UpdateProduct изменяет товар продавца.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.ProductPatch
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateProduct(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, "update product error", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// DeleteProduct удаляет товар продавца.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, "delete product error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type restockResponse struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Stock     int    `json:"stock"`
}

// RestockVariant пополняет остаток варианта.
func (h *Handler) RestockVariant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req restockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	productID, sku := chi.URLParam(r, "id"), chi.URLParam(r, "sku")
	stock, err := h.service.RestockVariant(r.Context(), actor, productID, sku, req.Quantity)
	if err != nil {
		h.writeError(w, "restock error", err)
		return
	}

	writeJSON(w, http.StatusOK, restockResponse{ProductID: productID, SKU: sku, Stock: stock})
}

// GetProduct возвращает товар по id.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get product error", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ListProducts возвращает страницу активных товаров с фильтром по продавцу и категории.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.writeError(w, "list products error", err)
		return
	}

	products, err := h.service.ListProducts(r.Context(), service.ListQuery{
		SellerID: r.URL.Query().Get("seller_id"),
		Category: r.URL.Query().Get("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.writeError(w, "list products error", err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}

	writeJSON(w, http.StatusOK, products)
}

// SearchProducts ищет товары по строке q.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.writeError(w, "search products error", err)
		return
	}

	docs, err := h.service.SearchProducts(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		h.writeError(w, "search products error", err)
		return
	}
	if docs == nil {
		docs = []model.SearchDocument{}
	}

	writeJSON(w, http.StatusOK, docs)
}

// CategoryCounts возвращает количество активных товаров по категориям.
func (h *Handler) CategoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.CategoryCounts(r.Context())
	if err != nil {
		h.writeError(w, "category counts error", err)
		return
	}
	if counts == nil {
		counts = []model.CategoryCount{}
	}

	writeJSON(w, http.StatusOK, counts)
}

// AddCartItem кладёт позицию в корзину текущего покупателя.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req model.CartItem
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.AddCartItem(r.Context(), actor, req); err != nil {
		h.writeError(w, "add cart item error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
