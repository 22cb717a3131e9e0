package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/marketplace-catalog/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware каталога.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)
	if h.ops.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.ops.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/search", h.SearchProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/categories/counts", h.CategoryCounts)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/products", h.CreateProduct)
			r.Patch("/products/{id}", h.UpdateProduct)
			r.Delete("/products/{id}", h.DeleteProduct)
			r.Post("/products/{id}/variants/{sku}/restock", h.RestockVariant)

			r.Post("/cart/items", h.AddCartItem)

			r.Post("/orders", h.CreateOrder)
			r.Post("/orders/{id}/accept", h.AcceptOrder)
			r.Post("/orders/{id}/refuse", h.RefuseOrder)
			r.Post("/orders/{id}/cancel", h.CancelOrder)

			r.Post("/discounts", h.CreateDiscount)
			r.Get("/discounts/{id}", h.GetDiscount)
			r.Delete("/discounts/{id}", h.DeleteDiscount)
			r.Put("/discounts/{id}/active", h.SetDiscountActive)
			r.Put("/discounts/{id}/products/{productID}", h.ApplyDiscount)
			r.Delete("/discounts/{id}/products/{productID}", h.RemoveDiscount)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireAdmin)

				r.Post("/reconcile", h.Reconcile)
				r.Post("/search/rebuild", h.RebuildSearch)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
