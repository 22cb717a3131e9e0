package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/discount"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/notify"
	"github.com/mmeshcher/marketplace-catalog/internal/validation"
)

// CreateOrder оформляет позиции покупателя одной транзакцией: списывает остатки,
// проверяет скидки, создаёт заказы и платежи и убирает позиции из корзины.
// Любая ошибка откатывает всё, включая уже сделанные списания.
func (s *Service) CreateOrder(ctx context.Context, actor model.Principal, items []model.OrderItem, method model.PaymentMethod) ([]model.Order, error) {
	const op = "create_order"

	if err := requireRole(op, actor, model.RoleCustomer); err != nil {
		return nil, err
	}
	if err := validation.OrderItems(items, method); err != nil {
		return nil, err
	}

	// Единый порядок блокировок строк вариантов для всех заказов.
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b model.OrderItem) int {
		if c := strings.Compare(a.ProductID, b.ProductID); c != 0 {
			return c
		}
		return strings.Compare(a.SKU, b.SKU)
	})

	txCtx, cancel := context.WithTimeout(ctx, s.orderTxTimeout)
	defer cancel()

	now := s.now()
	var orders []model.Order
	err := s.store.InTx(txCtx, func(q Queries) error {
		orders = orders[:0]
		for _, item := range sorted {
			o, err := s.placeLine(txCtx, q, actor, item, method, now)
			if err != nil {
				return err
			}
			orders = append(orders, *o)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientStock) {
			s.metrics.InsufficientStock(ctx)
			s.logger.Info("order rejected: insufficient stock",
				zap.String("customer_id", actor.ID), zap.Error(err))
		}
		return nil, err
	}

	touched := make([]string, 0, len(orders))
	events := make([]notify.Event, 0, len(orders))
	for _, o := range orders {
		if !slices.Contains(touched, o.ProductID) {
			touched = append(touched, o.ProductID)
		}
		events = append(events, notify.NewEvent(notify.OrderCreated, o.SellerID, map[string]string{
			"order_id":    o.ID,
			"customer_id": o.CustomerID,
			"product_id":  o.ProductID,
			"sku":         o.SKU,
		}))
	}

	s.committed(ctx, touched...)
	s.notifier.Send(ctx, events...)
	s.metrics.OrderCreated(ctx, len(orders))
	return orders, nil
}

func (s *Service) placeLine(ctx context.Context, q Queries, actor model.Principal, item model.OrderItem,
	method model.PaymentMethod, now time.Time) (*model.Order, error) {
	const op = "create_order"

	p, err := q.GetProduct(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, apperr.Validation(op, "product %s is not available", p.ID)
	}
	v, ok := p.Variant(item.SKU)
	if !ok {
		return nil, apperr.NotFound(op, "variant", item.ProductID+"/"+item.SKU)
	}

	if err := q.Reserve(ctx, item.ProductID, item.SKU, item.Quantity); err != nil {
		return nil, err
	}

	var d *model.Discount
	if item.DiscountID != "" {
		d, err = s.claimDiscount(ctx, q, actor, p, item.DiscountID, now)
		if err != nil {
			return nil, err
		}
	}

	total, err := discount.Apply(d, discount.Line{UnitPrice: v.Price, Quantity: item.Quantity})
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:            uuid.NewString(),
		CustomerID:    actor.ID,
		SellerID:      p.SellerID,
		ProductID:     p.ID,
		SKU:           item.SKU,
		Quantity:      item.Quantity,
		UnitPrice:     v.Price,
		DiscountID:    item.DiscountID,
		TotalAmount:   total,
		Status:        model.OrderStatusPending,
		PaymentMethod: method,
	}
	if err := q.InsertOrder(ctx, o); err != nil {
		return nil, err
	}

	payment := &model.Payment{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		SellerID:   o.SellerID,
		Method:     method,
		Status:     method.InitialStatus(),
		Amount:     total,
	}
	if err := q.InsertPayment(ctx, payment); err != nil {
		return nil, err
	}

	if err := q.RemoveCartItem(ctx, actor.ID, item.ProductID, item.SKU); err != nil {
		return nil, err
	}
	return o, nil
}

// claimDiscount проверяет применимость скидки к позиции и занимает одно использование.
func (s *Service) claimDiscount(ctx context.Context, q Queries, actor model.Principal, p *model.Product,
	discountID string, now time.Time) (*model.Discount, error) {
	const op = "claim_discount"

	d, err := q.GetDiscount(ctx, discountID)
	if err != nil {
		return nil, err
	}
	if !d.IsActive {
		return nil, apperr.Validation(op, "discount is not active")
	}
	if discount.Status(now, d.StartDate, d.EndDate) != model.DiscountOngoing {
		return nil, apperr.Validation(op, "discount is not ongoing")
	}
	if !p.Discounts.Ongoing.Contains(d.ID) {
		return nil, apperr.Validation(op, "discount does not apply to product %s", p.ID)
	}

	if d.CustomerUsageLimit > 0 {
		used, err := q.CountCustomerDiscountUses(ctx, d.ID, actor.ID)
		if err != nil {
			return nil, err
		}
		if used >= d.CustomerUsageLimit {
			return nil, apperr.Conflict(op, "customer usage limit reached").With("discount_id", d.ID)
		}
	}

	ok, err := q.ClaimDiscountUse(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict(op, "discount usage limit reached").With("discount_id", d.ID)
	}
	return d, nil
}

// AcceptOrder подтверждает заказ продавцом.
func (s *Service) AcceptOrder(ctx context.Context, actor model.Principal, orderID string) (*model.Order, error) {
	return s.transitionOrder(ctx, "accept_order", actor, orderID, model.OrderStatusAccepted)
}

// RefuseOrder отклоняет заказ продавцом и возвращает остаток.
func (s *Service) RefuseOrder(ctx context.Context, actor model.Principal, orderID string) (*model.Order, error) {
	return s.transitionOrder(ctx, "refuse_order", actor, orderID, model.OrderStatusRefused)
}

// CancelOrder отменяет заказ покупателем и возвращает остаток.
func (s *Service) CancelOrder(ctx context.Context, actor model.Principal, orderID string) (*model.Order, error) {
	return s.transitionOrder(ctx, "cancel_order", actor, orderID, model.OrderStatusCancelled)
}

func (s *Service) transitionOrder(ctx context.Context, op string, actor model.Principal, orderID string,
	to model.OrderStatus) (*model.Order, error) {
	releases := to == model.OrderStatusRefused || to == model.OrderStatusCancelled

	txCtx, cancel := context.WithTimeout(ctx, s.orderTxTimeout)
	defer cancel()

	var order *model.Order
	err := s.store.InTx(txCtx, func(q Queries) error {
		o, err := q.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeOrderActor(op, actor, o, to); err != nil {
			return err
		}
		if o.Status != model.OrderStatusPending {
			return apperr.Conflict(op, "order is %s", o.Status).With("order_id", o.ID)
		}

		ok, err := q.UpdateOrderStatus(txCtx, o.ID, model.OrderStatusPending, to)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict(op, "order status changed concurrently").With("order_id", o.ID)
		}

		if releases {
			if err := q.Release(txCtx, o.ProductID, o.SKU, o.Quantity); err != nil {
				return err
			}
			if err := q.VoidPayment(txCtx, o.ID); err != nil {
				return err
			}
			if o.DiscountID != "" {
				if err := q.ReleaseDiscountUse(txCtx, o.DiscountID); err != nil {
					return err
				}
			}
		}

		o.Status = to
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if releases {
		s.committed(ctx, order.ProductID)
	}
	s.notifier.Send(ctx, orderEvent(order))
	return order, nil
}

// authorizeOrderActor: подтверждает и отклоняет продавец заказа, отменяет покупатель.
func authorizeOrderActor(op string, actor model.Principal, o *model.Order, to model.OrderStatus) error {
	if actor.Role == model.RoleAdmin {
		return nil
	}
	if to == model.OrderStatusCancelled {
		if actor.Role != model.RoleCustomer || actor.ID != o.CustomerID {
			return apperr.Forbidden(op, "only the customer who placed the order can cancel it")
		}
		return nil
	}
	return authorizeOwner(op, actor, o.SellerID)
}

func orderEvent(o *model.Order) notify.Event {
	data := map[string]string{"order_id": o.ID, "product_id": o.ProductID, "sku": o.SKU}
	switch o.Status {
	case model.OrderStatusAccepted:
		return notify.NewEvent(notify.OrderAccepted, o.CustomerID, data)
	case model.OrderStatusRefused:
		return notify.NewEvent(notify.OrderRefused, o.CustomerID, data)
	default:
		return notify.NewEvent(notify.OrderCancelled, o.SellerID, data)
	}
}
