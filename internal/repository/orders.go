package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

// InsertOrder сохраняет строку заказа.
func (q *Queries) InsertOrder(ctx context.Context, o *model.Order) error {
	var discountID *string
	if o.DiscountID != "" {
		discountID = &o.DiscountID
	}

	err := q.db.QueryRow(ctx,
		`INSERT INTO orders (id, customer_id, seller_id, product_id, sku, quantity, unit_price_cents,
		     discount_id, total_amount_cents, order_status, payment_method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		o.ID, o.CustomerID, o.SellerID, o.ProductID, o.SKU, o.Quantity, toCents(o.UnitPrice),
		discountID, toCents(o.TotalAmount), string(o.Status), string(o.PaymentMethod),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// InsertPayment сохраняет платёжную запись заказа.
func (q *Queries) InsertPayment(ctx context.Context, p *model.Payment) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO payments (id, order_id, customer_id, seller_id, method, status, amount_cents)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		p.ID, p.OrderID, p.CustomerID, p.SellerID, string(p.Method), string(p.Status), toCents(p.Amount),
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetOrderForUpdate читает заказ и блокирует строку до конца транзакции.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	var (
		o                     model.Order
		discountID            *string
		unitCents, totalCents int64
		status, method        string
	)
	err := q.db.QueryRow(ctx,
		`SELECT id, customer_id, seller_id, product_id, sku, quantity, unit_price_cents, discount_id,
		     total_amount_cents, order_status, payment_method, created_at, updated_at
		 FROM orders WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&o.ID, &o.CustomerID, &o.SellerID, &o.ProductID, &o.SKU, &o.Quantity, &unitCents, &discountID,
		&totalCents, &status, &method, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("get_order", "order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	if discountID != nil {
		o.DiscountID = *discountID
	}
	o.UnitPrice = fromCents(unitCents)
	o.TotalAmount = fromCents(totalCents)
	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentMethod(method)
	return &o, nil
}

// UpdateOrderStatus переводит заказ из from в to.
func (q *Queries) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE orders SET order_status = $3, updated_at = now() WHERE id = $1 AND order_status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// VoidPayment аннулирует платёж заказа.
func (q *Queries) VoidPayment(ctx context.Context, orderID string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE order_id = $1`,
		orderID, string(model.PaymentVoided),
	)
	if err != nil {
		return fmt.Errorf("void payment: %w", err)
	}
	return nil
}

// UpsertCartItem кладёт позицию в корзину или заменяет её количество.
func (q *Queries) UpsertCartItem(ctx context.Context, item model.CartItem) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO cart_items (customer_id, product_id, sku, quantity)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (customer_id, product_id, sku)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`,
		item.CustomerID, item.ProductID, item.SKU, item.Quantity,
	)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

// RemoveCartItem удаляет купленную позицию из корзины. Отсутствие позиции не ошибка.
func (q *Queries) RemoveCartItem(ctx context.Context, customerID, productID, sku string) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM cart_items WHERE customer_id = $1 AND product_id = $2 AND sku = $3`,
		customerID, productID, sku,
	)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}
