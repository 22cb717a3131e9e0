package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

const discountColumns = `id, seller_id, code, type, value::text, params, start_date, end_date, status,
    is_active, current_uses, max_uses, customer_usage_limit, applicable_products, created_at, updated_at`

// Колонки списков скидок товара. Имена колонок подставляются в SQL только отсюда.
var bucketColumns = map[model.DiscountStatus]string{
	model.DiscountUpcoming: "upcoming_discounts",
	model.DiscountOngoing:  "ongoing_discounts",
	model.DiscountExpired:  "expired_discounts",
}

var bucketOrder = []model.DiscountStatus{model.DiscountUpcoming, model.DiscountOngoing, model.DiscountExpired}

// BucketDrift описывает скидку, лежащую в списке товара, который отстал от её статуса.
type BucketDrift struct {
	DiscountID string
	Status     model.DiscountStatus
	ProductID  string
}

// InsertDiscount сохраняет новую скидку.
func (q *Queries) InsertDiscount(ctx context.Context, d *model.Discount) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO discounts (id, seller_id, code, type, value, params, start_date, end_date, status,
		     is_active, max_uses, customer_usage_limit, applicable_products)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		d.ID, d.SellerID, d.Code, string(d.Type), d.Value.String(), nullableJSON(d.Params),
		d.StartDate, d.EndDate, string(d.Status), d.IsActive, d.MaxUses, d.CustomerUsageLimit,
		nonNil(d.ApplicableProducts),
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "discounts_seller_id_code_key") {
			return fmt.Errorf("%w: %s", ErrDiscountCodeTaken, d.Code)
		}
		return fmt.Errorf("insert discount: %w", err)
	}
	return nil
}

// GetDiscount возвращает скидку по id.
func (q *Queries) GetDiscount(ctx context.Context, id string) (*model.Discount, error) {
	var d *model.Discount
	err := q.read(ctx, func(ctx context.Context) error {
		var err error
		d, err = scanDiscount(q.db.QueryRow(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("get_discount", "discount", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get discount: %w", err)
	}
	return d, nil
}

// SetDiscountActive меняет видимость скидки. Статус жизненного цикла не затрагивается.
func (q *Queries) SetDiscountActive(ctx context.Context, id string, active bool) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE discounts SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set discount active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("set_discount_active", "discount", id)
	}
	return nil
}

// DeleteDiscount удаляет скидку и убирает её из списков всех товаров.
// Возвращает id изменённых товаров. Должен вызываться в транзакции.
func (q *Queries) DeleteDiscount(ctx context.Context, id string) ([]string, error) {
	// Сначала удаляется сама скидка: MoveDiscount, идущий параллельно, либо
	// дождётся этого удаления и ничего не положит, либо успеет раньше, и тогда
	// его запись будет видна чистке ниже.
	tag, err := q.db.Exec(ctx, `DELETE FROM discounts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete discount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.NotFound("delete_discount", "discount", id)
	}

	rows, err := q.db.Query(ctx,
		`UPDATE products
		 SET upcoming_discounts = array_remove(upcoming_discounts, $1::text),
		     ongoing_discounts = array_remove(ongoing_discounts, $1::text),
		     expired_discounts = array_remove(expired_discounts, $1::text),
		     version = version + 1, updated_at = now()
		 WHERE upcoming_discounts @> ARRAY[$1::text]
		    OR ongoing_discounts @> ARRAY[$1::text]
		    OR expired_discounts @> ARRAY[$1::text]
		 RETURNING id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("detach discount from products: %w", err)
	}
	touched, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("detach discount from products: %w", err)
	}
	return touched, nil
}

// AddApplicableProduct добавляет товар в applicable_products. Возвращает false,
// если товар уже был в списке, и ErrNotFound, если скидки больше нет.
func (q *Queries) AddApplicableProduct(ctx context.Context, discountID, productID string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE discounts
		 SET applicable_products = array_append(applicable_products, $2::text), updated_at = now()
		 WHERE id = $1 AND NOT applicable_products @> ARRAY[$2::text]`,
		discountID, productID,
	)
	if err != nil {
		return false, fmt.Errorf("add applicable product: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, q.discountExists(ctx, "add_applicable_product", discountID)
}

// RemoveApplicableProduct убирает товар из applicable_products.
func (q *Queries) RemoveApplicableProduct(ctx context.Context, discountID, productID string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE discounts
		 SET applicable_products = array_remove(applicable_products, $2::text), updated_at = now()
		 WHERE id = $1 AND applicable_products @> ARRAY[$2::text]`,
		discountID, productID,
	)
	if err != nil {
		return false, fmt.Errorf("remove applicable product: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, q.discountExists(ctx, "remove_applicable_product", discountID)
}

// discountExists отличает «нечего менять» от удалённой скидки.
func (q *Queries) discountExists(ctx context.Context, op, id string) error {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check discount: %w", err)
	}
	if !exists {
		return apperr.NotFound(op, "discount", id)
	}
	return nil
}

// MoveDiscount кладёт скидку в список target у каждого товара из productIDs,
// убирая её из двух других списков. Каждый товар меняется одним атомарным
// оператором. Удалённая скидка никуда не кладётся: строка скидки блокируется
// FOR SHARE, поэтому параллельный DeleteDiscount либо ждёт, либо уже победил.
// Возвращает id товаров, которые действительно изменились.
func (q *Queries) MoveDiscount(ctx context.Context, discountID string, target model.DiscountStatus, productIDs []string) ([]string, error) {
	targetCol, ok := bucketColumns[target]
	if !ok {
		return nil, fmt.Errorf("move discount: unknown status %q", target)
	}
	if len(productIDs) == 0 {
		return nil, nil
	}

	var (
		sets    []string
		changed = []string{fmt.Sprintf("NOT %s @> ARRAY[$1::text]", targetCol)}
	)
	for _, s := range bucketOrder {
		col := bucketColumns[s]
		if s == target {
			sets = append(sets, fmt.Sprintf("%s = array_append(array_remove(%s, $1::text), $1::text)", col, col))
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = array_remove(%s, $1::text)", col, col))
		changed = append(changed, fmt.Sprintf("%s @> ARRAY[$1::text]", col))
	}

	sql := `UPDATE products SET ` + strings.Join(sets, ", ") + `, version = version + 1, updated_at = now()
		WHERE id = ANY($2) AND (` + strings.Join(changed, " OR ") + `)
		  AND EXISTS (SELECT 1 FROM discounts WHERE id = $1::text FOR SHARE)
		RETURNING id`

	rows, err := q.db.Query(ctx, sql, discountID, productIDs)
	if err != nil {
		return nil, fmt.Errorf("move discount: %w", err)
	}
	moved, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("move discount: %w", err)
	}
	return moved, nil
}

// UnplaceDiscount убирает скидку из всех списков товара.
func (q *Queries) UnplaceDiscount(ctx context.Context, productID, discountID string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE products
		 SET upcoming_discounts = array_remove(upcoming_discounts, $2::text),
		     ongoing_discounts = array_remove(ongoing_discounts, $2::text),
		     expired_discounts = array_remove(expired_discounts, $2::text),
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND (upcoming_discounts @> ARRAY[$2::text]
		    OR ongoing_discounts @> ARRAY[$2::text]
		    OR expired_discounts @> ARRAY[$2::text])`,
		productID, discountID,
	)
	if err != nil {
		return false, fmt.Errorf("unplace discount: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimDiscountUse атомарно занимает одно использование скидки.
// max_uses = 0 означает отсутствие ограничения.
func (q *Queries) ClaimDiscountUse(ctx context.Context, id string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE discounts
		 SET current_uses = current_uses + 1, updated_at = now()
		 WHERE id = $1 AND (max_uses = 0 OR current_uses < max_uses)`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("claim discount use: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseDiscountUse возвращает использование скидки при отмене заказа.
func (q *Queries) ReleaseDiscountUse(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE discounts SET current_uses = GREATEST(current_uses - 1, 0), updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("release discount use: %w", err)
	}
	return nil
}

// CountCustomerDiscountUses считает действующие заказы покупателя со скидкой.
func (q *Queries) CountCustomerDiscountUses(ctx context.Context, discountID, customerID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM orders
		 WHERE discount_id = $1 AND customer_id = $2 AND order_status NOT IN ($3, $4)`,
		discountID, customerID, string(model.OrderStatusRefused), string(model.OrderStatusCancelled),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count discount uses: %w", err)
	}
	return n, nil
}

// ListTransitionCandidates постранично возвращает скидки, чей сохранённый статус
// мог отстать от времени now.
func (q *Queries) ListTransitionCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]model.Discount, error) {
	var out []model.Discount
	err := q.read(ctx, func(ctx context.Context) error {
		rows, err := q.db.Query(ctx,
			`SELECT `+discountColumns+` FROM discounts
			 WHERE ((status = 'upcoming' AND start_date <= $1)
			     OR (status IN ('upcoming', 'ongoing') AND end_date < $1))
			   AND id > $2
			 ORDER BY id
			 LIMIT $3`,
			now, afterID, limit,
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Discount, error) {
			d, err := scanDiscount(row)
			if err != nil {
				return model.Discount{}, err
			}
			return *d, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list transition candidates: %w", err)
	}
	return out, nil
}

// AdvanceDiscountStatus переводит скидку из from в to, только если статус не
// изменился с момента чтения.
func (q *Queries) AdvanceDiscountStatus(ctx context.Context, id string, from, to model.DiscountStatus) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE discounts SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("advance discount status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListBucketDrift находит товары, у которых скидка лежит в более раннем списке,
// чем её сохранённый статус.
func (q *Queries) ListBucketDrift(ctx context.Context, limit int) ([]BucketDrift, error) {
	var out []BucketDrift
	err := q.read(ctx, func(ctx context.Context) error {
		rows, err := q.db.Query(ctx,
			`SELECT d.id, d.status, p.id
			 FROM discounts d
			 JOIN products p
			   ON (d.status IN ('ongoing', 'expired') AND p.upcoming_discounts @> ARRAY[d.id])
			   OR (d.status = 'expired' AND p.ongoing_discounts @> ARRAY[d.id])
			 ORDER BY d.id, p.id
			 LIMIT $1`,
			limit,
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (BucketDrift, error) {
			var (
				b      BucketDrift
				status string
			)
			err := row.Scan(&b.DiscountID, &status, &b.ProductID)
			b.Status = model.DiscountStatus(status)
			return b, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list bucket drift: %w", err)
	}
	return out, nil
}

func scanDiscount(row pgx.Row) (*model.Discount, error) {
	var (
		d              model.Discount
		typ, status    string
		value          string
		params         []byte
		applicableList []string
	)
	err := row.Scan(&d.ID, &d.SellerID, &d.Code, &typ, &value, &params, &d.StartDate, &d.EndDate, &status,
		&d.IsActive, &d.CurrentUses, &d.MaxUses, &d.CustomerUsageLimit, &applicableList, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Value, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse discount value: %w", err)
	}
	d.Type = model.DiscountType(typ)
	d.Status = model.DiscountStatus(status)
	d.Params = params
	d.ApplicableProducts = nonNil(applicableList)
	return &d, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
