package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/cache"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/repository"
	"github.com/mmeshcher/marketplace-catalog/internal/validation"
)

const (
	slugAttempts     = 5
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ProductInput содержит поля нового товара.
type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Variants    []model.Variant `json:"variants"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

// ProductPatch содержит изменяемые поля товара. nil означает «не менять».
// Для существующих SKU меняется только цена, новые SKU добавляются с остатком.
type ProductPatch struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Category    *string         `json:"category,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
	Variants    []model.Variant `json:"variants,omitempty"`
}

// CreateProduct публикует товар продавца.
func (s *Service) CreateProduct(ctx context.Context, actor model.Principal, in ProductInput) (*model.Product, error) {
	const op = "create_product"

	if err := requireRole(op, actor, model.RoleSeller); err != nil {
		return nil, err
	}
	if err := validation.ProductInput(in.Name, in.Category, in.Variants); err != nil {
		return nil, err
	}

	p := &model.Product{
		ID:          uuid.NewString(),
		SellerID:    actor.ID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    strings.TrimSpace(in.Category),
		Variants:    in.Variants,
		IsActive:    true,
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}

	err := s.withFreshSlug(ctx, p.Name, func(q Queries, candidate string) error {
		p.Slug = candidate
		return q.InsertProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, p.ID)
	return p, nil
}

// withFreshSlug подбирает свободный slug для name и выполняет write в транзакции.
// Гонку за уникальный индекс проигрывает одна из вставок; она повторяется с
// новым суффиксом.
func (s *Service) withFreshSlug(ctx context.Context, name string, write func(q Queries, candidate string) error) error {
	base := slugBase(name)
	for attempt := 0; attempt < slugAttempts; attempt++ {
		err := s.store.InTx(ctx, func(q Queries) error {
			taken, err := q.SlugsWithPrefix(ctx, base)
			if err != nil {
				return err
			}
			return write(q, nextSlug(base, taken))
		})
		if !errors.Is(err, repository.ErrSlugTaken) {
			return err
		}
	}
	return apperr.Conflict("assign_slug", "could not assign a unique slug for %q", base)
}

func slugBase(name string) string {
	if base := slug.Make(name); base != "" {
		return base
	}
	return "product"
}

// nextSlug возвращает base, если он свободен, иначе base-N со следующим номером.
func nextSlug(base string, taken []string) string {
	baseTaken := false
	maxSuffix := 1
	for _, t := range taken {
		if t == base {
			baseTaken = true
			continue
		}
		if n, ok := slugSuffix(t, base); ok && n > maxSuffix {
			maxSuffix = n
		}
	}
	if !baseTaken {
		return base
	}
	return fmt.Sprintf("%s-%d", base, maxSuffix+1)
}

func slugSuffix(s, base string) (int, bool) {
	rest, ok := strings.CutPrefix(s, base+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}

// slugFits сообщает, что текущий slug уже построен от base.
func slugFits(current, base string) bool {
	if current == base {
		return true
	}
	_, ok := slugSuffix(current, base)
	return ok
}

// UpdateProduct меняет поля товара владельца.
func (s *Service) UpdateProduct(ctx context.Context, actor model.Principal, id string, patch ProductPatch) (*model.Product, error) {
	const op = "update_product"

	var updated *model.Product
	apply := func(q Queries, candidate string) error {
		p, err := q.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeOwner(op, actor, p.SellerID); err != nil {
			return err
		}
		if err := patchProduct(p, patch); err != nil {
			return err
		}
		if candidate != "" && !slugFits(p.Slug, slugBase(p.Name)) {
			p.Slug = candidate
		}
		if err := q.UpdateProduct(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	}

	var err error
	if patch.Name != nil {
		err = s.withFreshSlug(ctx, *patch.Name, apply)
	} else {
		err = s.store.InTx(ctx, func(q Queries) error { return apply(q, "") })
	}
	if err != nil {
		return nil, err
	}

	s.committed(ctx, id)
	return updated, nil
}

func patchProduct(p *model.Product, patch ProductPatch) error {
	const op = "update_product"

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return apperr.Validation(op, "product name is required")
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Category != nil {
		p.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}

	if len(patch.Variants) == 0 {
		return validation.ProductInput(p.Name, p.Category, p.Variants)
	}

	merged := make([]model.Variant, len(p.Variants))
	copy(merged, p.Variants)
	index := make(map[string]int, len(merged))
	for i, v := range merged {
		index[v.SKU] = i
	}
	for _, v := range patch.Variants {
		if i, ok := index[v.SKU]; ok {
			merged[i].Price = v.Price
			continue
		}
		index[v.SKU] = len(merged)
		merged = append(merged, v)
	}
	if err := validation.ProductInput(p.Name, p.Category, merged); err != nil {
		return err
	}
	p.Variants = merged
	return nil
}

// DeleteProduct удаляет товар владельца.
func (s *Service) DeleteProduct(ctx context.Context, actor model.Principal, id string) error {
	const op = "delete_product"

	err := s.store.InTx(ctx, func(q Queries) error {
		p, err := q.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeOwner(op, actor, p.SellerID); err != nil {
			return err
		}
		return q.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}

	s.committed(ctx, id)
	return nil
}

// RestockVariant увеличивает остаток SKU по поставке продавца.
func (s *Service) RestockVariant(ctx context.Context, actor model.Principal, productID, sku string, quantity int) (int, error) {
	const op = "restock"

	if quantity <= 0 {
		return 0, apperr.Validation(op, "quantity must be positive")
	}

	var stock int
	err := s.store.InTx(ctx, func(q Queries) error {
		p, err := q.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := authorizeOwner(op, actor, p.SellerID); err != nil {
			return err
		}
		stock, err = q.Restock(ctx, productID, sku, quantity)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.committed(ctx, productID)
	return stock, nil
}

// AddCartItem кладёт позицию в корзину покупателя.
func (s *Service) AddCartItem(ctx context.Context, actor model.Principal, item model.CartItem) error {
	const op = "add_cart_item"

	if err := requireRole(op, actor, model.RoleCustomer); err != nil {
		return err
	}
	if err := validation.Quantity(item.Quantity); err != nil {
		return err
	}

	p, err := s.store.GetProduct(ctx, item.ProductID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return apperr.Validation(op, "product is not available")
	}
	if _, ok := p.Variant(item.SKU); !ok {
		return apperr.NotFound(op, "variant", item.ProductID+"/"+item.SKU)
	}

	item.CustomerID = actor.ID
	return s.store.UpsertCartItem(ctx, item)
}

// GetProduct читает товар через кэш. Заполнение кэша пропускается, если товар
// инвалидировали во время чтения из хранилища.
func (s *Service) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	if s.cache == nil {
		return s.store.GetProduct(ctx, id)
	}

	if p, ok, err := s.cache.GetProduct(ctx, id); err == nil && ok {
		return p, nil
	} else if err != nil {
		s.logger.Warn("cache read failed", zap.String("product_id", id), zap.Error(err))
	}

	gen, genErr := s.cache.ProductGeneration(ctx, id)

	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if genErr == nil {
		if _, err := s.cache.FillProduct(ctx, p, gen); err != nil {
			s.logger.Warn("cache fill failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}

// ListQuery содержит параметры листинга.
type ListQuery struct {
	SellerID string
	Category string
	Limit    int
	Offset   int
}

// ListProducts возвращает страницу активных товаров.
func (s *Service) ListProducts(ctx context.Context, lq ListQuery) ([]model.Product, error) {
	limit, offset, err := page("list_products", lq.Limit, lq.Offset)
	if err != nil {
		return nil, err
	}

	key := cache.ListKey(lq.SellerID, lq.Category, limit, offset)
	return cachedDerived(ctx, s, key, func(ctx context.Context) ([]model.Product, error) {
		return s.store.ListProducts(ctx, repository.ProductFilter{
			SellerID: lq.SellerID,
			Category: lq.Category,
			Limit:    limit,
			Offset:   offset,
		})
	})
}

// SearchProducts выполняет полнотекстовый поиск по индексу.
func (s *Service) SearchProducts(ctx context.Context, query string, limit, offset int) ([]model.SearchDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("search_products", "query is required")
	}
	limit, offset, err := page("search_products", limit, offset)
	if err != nil {
		return nil, err
	}

	key := cache.SearchKey(query, limit, offset)
	return cachedDerived(ctx, s, key, func(ctx context.Context) ([]model.SearchDocument, error) {
		return s.store.SearchDocuments(ctx, query, limit, offset)
	})
}

// CategoryCounts возвращает число активных товаров по категориям.
func (s *Service) CategoryCounts(ctx context.Context) ([]model.CategoryCount, error) {
	return cachedDerived(ctx, s, cache.CategoryCountsKey, s.store.CategoryCounts)
}

func page(op string, limit, offset int) (int, int, error) {
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit < 0 || limit > maxPageLimit {
		return 0, 0, apperr.Validation(op, "limit must be between 1 and %d", maxPageLimit)
	}
	if offset < 0 {
		return 0, 0, apperr.Validation(op, "offset must not be negative")
	}
	return limit, offset, nil
}

// cachedDerived читает производную запись через кэш с защитой по общему счётчику.
func cachedDerived[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}

	var v T
	if ok, err := s.cache.GetDerived(ctx, key, &v); err == nil && ok {
		return v, nil
	} else if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	gen, genErr := s.cache.DerivedGeneration(ctx)

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if genErr == nil {
		if _, err := s.cache.FillDerived(ctx, key, v, gen); err != nil {
			s.logger.Warn("cache fill failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}
