package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

const productColumns = `id, seller_id, name, slug, description, category, is_active,
    upcoming_discounts, ongoing_discounts, expired_discounts, version, created_at, updated_at`

// ProductFilter задаёт выборку для листинга товаров.
type ProductFilter struct {
	SellerID        string
	Category        string
	IncludeInactive bool
	Limit           int
	Offset          int
}

// InsertProduct сохраняет товар вместе с вариантами. Должен вызываться в транзакции.
func (q *Queries) InsertProduct(ctx context.Context, p *model.Product) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO products (id, seller_id, name, slug, description, category, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING version, created_at, updated_at`,
		p.ID, p.SellerID, p.Name, p.Slug, p.Description, p.Category, p.IsActive,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "products_slug_key") {
			return fmt.Errorf("%w: %s", ErrSlugTaken, p.Slug)
		}
		return fmt.Errorf("insert product: %w", err)
	}

	for _, v := range p.Variants {
		if err := q.upsertVariant(ctx, p.ID, v); err != nil {
			return err
		}
	}

	return nil
}

func (q *Queries) upsertVariant(ctx context.Context, productID string, v model.Variant) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO product_variants (product_id, sku, stock, price_cents)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (product_id, sku) DO UPDATE SET price_cents = EXCLUDED.price_cents`,
		productID, v.SKU, v.Stock, toCents(v.Price),
	)
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

// SlugsWithPrefix возвращает занятые slug вида base и base-N.
func (q *Queries) SlugsWithPrefix(ctx context.Context, base string) ([]string, error) {
	var slugs []string
	err := q.read(ctx, func(ctx context.Context) error {
		rows, err := q.db.Query(ctx,
			`SELECT slug FROM products WHERE slug = $1 OR slug LIKE $2`,
			base, escapeLike(base)+"-%",
		)
		if err != nil {
			return err
		}
		slugs, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select slugs: %w", err)
	}
	return slugs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetProduct возвращает товар с вариантами.
func (q *Queries) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p *model.Product
	err := q.read(ctx, func(ctx context.Context) error {
		var err error
		p, err = scanProduct(q.db.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
		if err != nil {
			return err
		}
		variants, err := q.variantsFor(ctx, []string{id})
		if err != nil {
			return err
		}
		p.Variants = variants[id]
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("get_product", "product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// UpdateProduct сохраняет изменяемые поля товара и цены вариантов, увеличивая версию.
// Остатки здесь не меняются: ими управляет только журнал остатков.
func (q *Queries) UpdateProduct(ctx context.Context, p *model.Product) error {
	err := q.db.QueryRow(ctx,
		`UPDATE products
		 SET name = $2, slug = $3, description = $4, category = $5, is_active = $6,
		     version = version + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING version, updated_at`,
		p.ID, p.Name, p.Slug, p.Description, p.Category, p.IsActive,
	).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("update_product", "product", p.ID)
	}
	if err != nil {
		if isUniqueViolation(err, "products_slug_key") {
			return fmt.Errorf("%w: %s", ErrSlugTaken, p.Slug)
		}
		return fmt.Errorf("update product: %w", err)
	}

	for _, v := range p.Variants {
		if err := q.upsertVariant(ctx, p.ID, v); err != nil {
			return err
		}
	}

	return nil
}

// DeleteProduct удаляет товар, его варианты и позиции корзин, а также убирает
// товар из applicable_products всех скидок. Должен вызываться в транзакции.
func (q *Queries) DeleteProduct(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delete_product", "product", id)
	}

	_, err = q.db.Exec(ctx,
		`UPDATE discounts
		 SET applicable_products = array_remove(applicable_products, $1::text), updated_at = now()
		 WHERE applicable_products @> ARRAY[$1::text]`,
		id,
	)
	if err != nil {
		return fmt.Errorf("detach product from discounts: %w", err)
	}

	return nil
}

// ListProducts возвращает страницу товаров по фильтру.
func (q *Queries) ListProducts(ctx context.Context, f ProductFilter) ([]model.Product, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeInactive {
		where = append(where, "is_active")
	}
	if f.SellerID != "" {
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}

	sql := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return q.listProducts(ctx, sql, args...)
}

// ListProductsAfter постранично обходит все товары по возрастанию id.
func (q *Queries) ListProductsAfter(ctx context.Context, afterID string, limit int) ([]model.Product, error) {
	return q.listProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
}

func (q *Queries) listProducts(ctx context.Context, sql string, args ...any) ([]model.Product, error) {
	var products []model.Product
	err := q.read(ctx, func(ctx context.Context) error {
		rows, err := q.db.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		products = products[:0]
		var ids []string
		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return err
			}
			products = append(products, *p)
			ids = append(ids, p.ID)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		variants, err := q.variantsFor(ctx, ids)
		if err != nil {
			return err
		}
		for i := range products {
			products[i].Variants = variants[products[i].ID]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// CategoryCounts возвращает число активных товаров в каждой категории.
func (q *Queries) CategoryCounts(ctx context.Context) ([]model.CategoryCount, error) {
	var counts []model.CategoryCount
	err := q.read(ctx, func(ctx context.Context) error {
		rows, err := q.db.Query(ctx,
			`SELECT category, count(*) FROM products WHERE is_active GROUP BY category ORDER BY category`)
		if err != nil {
			return err
		}
		counts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CategoryCount, error) {
			var c model.CategoryCount
			err := row.Scan(&c.Category, &c.Count)
			return c, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("category counts: %w", err)
	}
	return counts, nil
}

func (q *Queries) variantsFor(ctx context.Context, ids []string) (map[string][]model.Variant, error) {
	out := make(map[string][]model.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := q.db.Query(ctx,
		`SELECT product_id, sku, stock, price_cents
		 FROM product_variants
		 WHERE product_id = ANY($1)
		 ORDER BY product_id, sku`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID  string
			v          model.Variant
			priceCents int64
		)
		if err := rows.Scan(&productID, &v.SKU, &v.Stock, &priceCents); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		v.Price = fromCents(priceCents)
		out[productID] = append(out[productID], v)
	}

	return out, rows.Err()
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p                           model.Product
		upcoming, ongoing, expired []string
	)
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Slug, &p.Description, &p.Category, &p.IsActive,
		&upcoming, &ongoing, &expired, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Discounts = model.NewBuckets(upcoming, ongoing, expired)
	return &p, nil
}
