// Package handler содержит HTTP-обработчики API каталога маркетплейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/middleware"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/reconciler"
	"github.com/mmeshcher/marketplace-catalog/internal/search"
	"github.com/mmeshcher/marketplace-catalog/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateProduct(ctx context.Context, actor model.Principal, in service.ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, actor model.Principal, id string, patch service.ProductPatch) (*model.Product, error)
	DeleteProduct(ctx context.Context, actor model.Principal, id string) error
	RestockVariant(ctx context.Context, actor model.Principal, productID, sku string, quantity int) (int, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, lq service.ListQuery) ([]model.Product, error)
	SearchProducts(ctx context.Context, query string, limit, offset int) ([]model.SearchDocument, error)
	CategoryCounts(ctx context.Context) ([]model.CategoryCount, error)
	AddCartItem(ctx context.Context, actor model.Principal, item model.CartItem) error

	CreateOrder(ctx context.Context, actor model.Principal, items []model.OrderItem, method model.PaymentMethod) ([]model.Order, error)
	AcceptOrder(ctx context.Context, actor model.Principal, orderID string) (*model.Order, error)
	RefuseOrder(ctx context.Context, actor model.Principal, orderID string) (*model.Order, error)
	CancelOrder(ctx context.Context, actor model.Principal, orderID string) (*model.Order, error)

	CreateDiscount(ctx context.Context, actor model.Principal, in service.DiscountInput) (*model.Discount, error)
	GetDiscount(ctx context.Context, actor model.Principal, id string) (*model.Discount, error)
	SetDiscountActive(ctx context.Context, actor model.Principal, id string, active bool) error
	DeleteDiscount(ctx context.Context, actor model.Principal, id string) error
	ApplyDiscountToProduct(ctx context.Context, actor model.Principal, discountID, productID string) error
	RemoveDiscountFromProduct(ctx context.Context, actor model.Principal, discountID, productID string) error
}

// Reconciler выполняет один проход сверки скидок.
type Reconciler interface {
	Run(ctx context.Context, now time.Time) (reconciler.Report, error)
}

// Rebuilder пересобирает поисковый индекс.
type Rebuilder interface {
	Rebuild(ctx context.Context) (search.RebuildReport, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ops содержит служебные зависимости для админских операций, проверки здоровья и метрик.
// Любое поле может быть nil.
type Ops struct {
	Reconciler Reconciler
	Rebuilder  Rebuilder
	Health     Pinger
	Metrics    http.Handler
}

// Handler реализует HTTP-обработчики API каталога.
type Handler struct {
	service        Service
	ops            Ops
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, ops Ops, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		ops:            ops,
		logger:         logger,
		authMiddleware: auth,
		now:            time.Now,
	}
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return p, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError отображает ошибку ядра в HTTP-ответ. Внутренние детали клиенту не уходят.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	http.Error(w, apperr.PublicMessage(err), status)
}

// queryInt читает необязательный целочисленный параметр запроса.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("parse_query", "%s must be an integer", name)
	}
	return v, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// Health отвечает 200, если хранилище доступно.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ops.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ops.Health.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requireAdmin пропускает только администраторов.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.principal(w, r)
		if !ok {
			return
		}
		if p.Role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Reconcile запускает внеочередной проход сверки скидок.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.ops.Reconciler == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	report, err := h.ops.Reconciler.Run(r.Context(), h.now())
	if err != nil {
		h.writeError(w, "reconcile error", err)
		return
	}

	writeJSON(w, http.StatusOK, reconcileResponse{
		Transitions: report.Transitions,
		Expired:     report.Expired,
		Moves:       report.Moves,
		Products:    report.Products,
		DurationMS:  report.Duration.Milliseconds(),
	})
}

type reconcileResponse struct {
	Transitions int      `json:"transitions"`
	Expired     int      `json:"expired"`
	Moves       int      `json:"moves"`
	Products    []string `json:"products"`
	DurationMS  int64    `json:"duration_ms"`
}

// RebuildSearch пересобирает поисковый индекс из основного хранилища.
func (h *Handler) RebuildSearch(w http.ResponseWriter, r *http.Request) {
	if h.ops.Rebuilder == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	report, err := h.ops.Rebuilder.Rebuild(r.Context())
	if err != nil {
		h.writeError(w, "search rebuild error", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
