// Package service реализует ядро каталога: журнал остатков и оформление заказов,
// жизненный цикл скидок, операции с товарами и распространение изменений в кэш и поиск.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/cache"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/notify"
	"github.com/mmeshcher/marketplace-catalog/internal/repository"
	"github.com/mmeshcher/marketplace-catalog/internal/telemetry"
)

const (
	defaultOrderTxTimeout = 5 * time.Second
	propagateTimeout      = 5 * time.Second
)

// Queries описывает операции хранилища, доступные и в транзакции, и вне её.
type Queries interface {
	Reserve(ctx context.Context, productID, sku string, quantity int) error
	Release(ctx context.Context, productID, sku string, quantity int) error
	Restock(ctx context.Context, productID, sku string, quantity int) (int, error)

	InsertProduct(ctx context.Context, p *model.Product) error
	SlugsWithPrefix(ctx context.Context, base string) ([]string, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	UpdateProduct(ctx context.Context, p *model.Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context, f repository.ProductFilter) ([]model.Product, error)
	CategoryCounts(ctx context.Context) ([]model.CategoryCount, error)

	InsertDiscount(ctx context.Context, d *model.Discount) error
	GetDiscount(ctx context.Context, id string) (*model.Discount, error)
	SetDiscountActive(ctx context.Context, id string, active bool) error
	DeleteDiscount(ctx context.Context, id string) ([]string, error)
	AddApplicableProduct(ctx context.Context, discountID, productID string) (bool, error)
	RemoveApplicableProduct(ctx context.Context, discountID, productID string) (bool, error)
	MoveDiscount(ctx context.Context, discountID string, target model.DiscountStatus, productIDs []string) ([]string, error)
	UnplaceDiscount(ctx context.Context, productID, discountID string) (bool, error)
	ClaimDiscountUse(ctx context.Context, id string) (bool, error)
	ReleaseDiscountUse(ctx context.Context, id string) error
	CountCustomerDiscountUses(ctx context.Context, discountID, customerID string) (int, error)

	InsertOrder(ctx context.Context, o *model.Order) error
	InsertPayment(ctx context.Context, p *model.Payment) error
	GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) (bool, error)
	VoidPayment(ctx context.Context, orderID string) error
	UpsertCartItem(ctx context.Context, item model.CartItem) error
	RemoveCartItem(ctx context.Context, customerID, productID, sku string) error

	SearchDocuments(ctx context.Context, query string, limit, offset int) ([]model.SearchDocument, error)
}

// Store определяет основное хранилище с транзакциями.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// Cache определяет кэш карточек и производных записей.
type Cache interface {
	GetProduct(ctx context.Context, id string) (*model.Product, bool, error)
	ProductGeneration(ctx context.Context, id string) (cache.Generation, error)
	FillProduct(ctx context.Context, p *model.Product, gen cache.Generation) (bool, error)
	DerivedGeneration(ctx context.Context) (cache.Generation, error)
	GetDerived(ctx context.Context, key string, dst any) (bool, error)
	FillDerived(ctx context.Context, key string, v any, gen cache.Generation) (bool, error)
	Invalidate(ctx context.Context, ids ...string) error
}

// Options содержит необязательные зависимости сервиса.
type Options struct {
	Cache          Cache
	Propagator     *Propagator
	Notifier       *notify.Dispatcher
	Metrics        *telemetry.Metrics
	Logger         *zap.Logger
	Clock          func() time.Time
	OrderTxTimeout time.Duration
}

// Service содержит бизнес-логику каталога.
type Service struct {
	store          Store
	cache          Cache
	propagator     *Propagator
	notifier       *notify.Dispatcher
	metrics        *telemetry.Metrics
	logger         *zap.Logger
	now            func() time.Time
	orderTxTimeout time.Duration
}

// NewService создаёт сервис поверх хранилища.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:          store,
		cache:          opts.Cache,
		propagator:     opts.Propagator,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		now:            opts.Clock,
		orderTxTimeout: opts.OrderTxTimeout,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.orderTxTimeout <= 0 {
		s.orderTxTimeout = defaultOrderTxTimeout
	}
	return s
}

// committed сообщает о закоммиченных изменениях товаров. Коммит уже случился,
// поэтому отмена запроса не должна оставлять в кэше старые записи.
func (s *Service) committed(ctx context.Context, productIDs ...string) {
	if s.propagator == nil || len(productIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), propagateTimeout)
	defer cancel()
	s.propagator.Committed(ctx, productIDs...)
}

// authorizeOwner пропускает администратора и продавца-владельца.
func authorizeOwner(op string, actor model.Principal, ownerID string) error {
	if actor.Role == model.RoleAdmin {
		return nil
	}
	if actor.Role != model.RoleSeller || actor.ID != ownerID {
		return apperr.Forbidden(op, "actor does not own this resource")
	}
	return nil
}

func requireRole(op string, actor model.Principal, roles ...model.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return apperr.Forbidden(op, "role %q is not allowed", actor.Role)
}
