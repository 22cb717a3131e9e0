package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
)

// Списание и версия товара меняются одним оператором: строка варианта
// блокируется, а условие stock >= $3 перепроверяется после ожидания блокировки.
const reserveSQL = `
WITH v AS (
    UPDATE product_variants
    SET stock = stock - $3
    WHERE product_id = $1 AND sku = $2 AND stock >= $3
    RETURNING product_id, stock
)
UPDATE products p
SET version = p.version + 1, updated_at = now()
FROM v
WHERE p.id = v.product_id
RETURNING v.stock`

const incrementSQL = `
WITH v AS (
    UPDATE product_variants
    SET stock = stock + $3
    WHERE product_id = $1 AND sku = $2
    RETURNING product_id, stock
)
UPDATE products p
SET version = p.version + 1, updated_at = now()
FROM v
WHERE p.id = v.product_id
RETURNING v.stock`

// Reserve атомарно списывает quantity единиц SKU. Остаток никогда не уходит в минус.
func (q *Queries) Reserve(ctx context.Context, productID, sku string, quantity int) error {
	const op = "reserve_stock"

	if quantity <= 0 {
		return apperr.Validation(op, "quantity must be positive")
	}

	var left int
	err := q.db.QueryRow(ctx, reserveSQL, productID, sku, quantity).Scan(&left)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reserve stock: %w", err)
	}

	// Строка не изменилась: различаем отсутствие SKU и нехватку остатка.
	var stock int
	err = q.db.QueryRow(ctx,
		`SELECT stock FROM product_variants WHERE product_id = $1 AND sku = $2`,
		productID, sku,
	).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "variant", productID+"/"+sku)
	}
	if err != nil {
		return fmt.Errorf("check stock: %w", err)
	}

	return apperr.InsufficientStock(op, productID, sku)
}

// Release возвращает ранее списанные единицы.
func (q *Queries) Release(ctx context.Context, productID, sku string, quantity int) error {
	return q.increment(ctx, "release_stock", productID, sku, quantity)
}

// Restock увеличивает остаток по поставке продавца и возвращает новый остаток.
func (q *Queries) Restock(ctx context.Context, productID, sku string, quantity int) (int, error) {
	var stock int
	err := q.db.QueryRow(ctx, incrementSQL, productID, sku, quantity).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound("restock", "variant", productID+"/"+sku)
	}
	if err != nil {
		return 0, fmt.Errorf("restock: %w", err)
	}
	return stock, nil
}

func (q *Queries) increment(ctx context.Context, op, productID, sku string, quantity int) error {
	if quantity <= 0 {
		return apperr.Validation(op, "quantity must be positive")
	}

	tag, err := q.db.Exec(ctx, incrementSQL, productID, sku, quantity)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(op, "variant", productID+"/"+sku)
	}
	return nil
}
