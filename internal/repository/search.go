package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

// UpsertSearchDocument записывает документ, если в индексе нет более новой версии.
// Удалённый документ не воскрешается: id товаров не переиспользуются.
func (q *Queries) UpsertSearchDocument(ctx context.Context, doc model.SearchDocument) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO search_documents (product_id, seller_id, name, slug, category, description,
		     min_price_cents, in_stock, is_active, ongoing_discounts, version, deleted, indexed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, now())
		 ON CONFLICT (product_id) DO UPDATE SET
		     seller_id = EXCLUDED.seller_id,
		     name = EXCLUDED.name,
		     slug = EXCLUDED.slug,
		     category = EXCLUDED.category,
		     description = EXCLUDED.description,
		     min_price_cents = EXCLUDED.min_price_cents,
		     in_stock = EXCLUDED.in_stock,
		     is_active = EXCLUDED.is_active,
		     ongoing_discounts = EXCLUDED.ongoing_discounts,
		     version = EXCLUDED.version,
		     indexed_at = now()
		 WHERE NOT search_documents.deleted AND search_documents.version <= EXCLUDED.version`,
		doc.ProductID, doc.SellerID, doc.Name, doc.Slug, doc.Category, doc.Description,
		toCents(doc.MinPrice), doc.InStock, doc.IsActive, nonNil(doc.OngoingDiscounts), doc.Version,
	)
	if err != nil {
		return false, fmt.Errorf("upsert search document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteSearchDocument помечает документ удалённым.
func (q *Queries) DeleteSearchDocument(ctx context.Context, productID string, version int64) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO search_documents (product_id, version, deleted, indexed_at)
		 VALUES ($1, $2, TRUE, now())
		 ON CONFLICT (product_id) DO UPDATE SET
		     deleted = TRUE,
		     version = GREATEST(search_documents.version, EXCLUDED.version),
		     indexed_at = now()`,
		productID, version,
	)
	if err != nil {
		return fmt.Errorf("delete search document: %w", err)
	}
	return nil
}

// MarkVanishedDocumentsDeleted помечает удалёнными документы товаров,
// которых больше нет в каталоге.
func (q *Queries) MarkVanishedDocumentsDeleted(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE search_documents sd
		 SET deleted = TRUE, indexed_at = now()
		 WHERE NOT sd.deleted
		   AND NOT EXISTS (SELECT 1 FROM products p WHERE p.id = sd.product_id)`)
	if err != nil {
		return 0, fmt.Errorf("mark vanished documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SearchDocuments выполняет полнотекстовый поиск по активным документам.
func (q *Queries) SearchDocuments(ctx context.Context, query string, limit, offset int) ([]model.SearchDocument, error) {
	var docs []model.SearchDocument
	err := q.read(ctx, func(ctx context.Context) error {
		rows, err := q.db.Query(ctx,
			`SELECT product_id, seller_id, name, slug, category, description, min_price_cents,
			     in_stock, is_active, ongoing_discounts, version
			 FROM search_documents, websearch_to_tsquery('simple', $1) query
			 WHERE NOT deleted AND is_active AND tsv @@ query
			 ORDER BY ts_rank(tsv, query) DESC, product_id
			 LIMIT $2 OFFSET $3`,
			query, limit, offset,
		)
		if err != nil {
			return err
		}
		docs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SearchDocument, error) {
			var (
				d          model.SearchDocument
				priceCents int64
			)
			err := row.Scan(&d.ProductID, &d.SellerID, &d.Name, &d.Slug, &d.Category, &d.Description,
				&priceCents, &d.InStock, &d.IsActive, &d.OngoingDiscounts, &d.Version)
			d.MinPrice = fromCents(priceCents)
			return d, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return docs, nil
}
