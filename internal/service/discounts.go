package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/discount"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/repository"
	"github.com/mmeshcher/marketplace-catalog/internal/saga"
)

// DiscountInput содержит поля новой скидки.
type DiscountInput struct {
	Code               string             `json:"code"`
	Type               model.DiscountType `json:"type"`
	Value              decimal.Decimal    `json:"value"`
	Params             json.RawMessage    `json:"params,omitempty"`
	StartDate          time.Time          `json:"start_date"`
	EndDate            time.Time          `json:"end_date"`
	MaxUses            int                `json:"max_uses"`
	CustomerUsageLimit int                `json:"customer_usage_limit"`
	IsActive           *bool              `json:"is_active,omitempty"`
}

// CreateDiscount регистрирует скидку продавца. Статус вычисляется по времени создания.
func (s *Service) CreateDiscount(ctx context.Context, actor model.Principal, in DiscountInput) (*model.Discount, error) {
	const op = "create_discount"

	if err := requireRole(op, actor, model.RoleSeller); err != nil {
		return nil, err
	}

	now := s.now()
	d := &model.Discount{
		ID:                 uuid.NewString(),
		SellerID:           actor.ID,
		Code:               strings.TrimSpace(in.Code),
		Type:               in.Type,
		Value:              in.Value,
		Params:             in.Params,
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		IsActive:           true,
		MaxUses:            in.MaxUses,
		CustomerUsageLimit: in.CustomerUsageLimit,
		ApplicableProducts: []string{},
	}
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}
	if err := discount.Validate(d, now); err != nil {
		return nil, err
	}
	d.Status = discount.Status(now, d.StartDate, d.EndDate)

	if err := s.store.InsertDiscount(ctx, d); err != nil {
		if errors.Is(err, repository.ErrDiscountCodeTaken) {
			return nil, apperr.Conflict(op, "discount code %q already exists", d.Code)
		}
		return nil, err
	}
	return d, nil
}

// GetDiscount возвращает скидку владельцу.
func (s *Service) GetDiscount(ctx context.Context, actor model.Principal, id string) (*model.Discount, error) {
	d, err := s.store.GetDiscount(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner("get_discount", actor, d.SellerID); err != nil {
		return nil, err
	}
	return d, nil
}

// SetDiscountActive включает или скрывает скидку. Статус жизненного цикла не меняется.
func (s *Service) SetDiscountActive(ctx context.Context, actor model.Principal, id string, active bool) error {
	if _, err := s.GetDiscount(ctx, actor, id); err != nil {
		return err
	}
	return s.store.SetDiscountActive(ctx, id, active)
}

// DeleteDiscount удаляет скидку и убирает её из списков всех товаров одной транзакцией.
func (s *Service) DeleteDiscount(ctx context.Context, actor model.Principal, id string) error {
	const op = "delete_discount"

	var touched []string
	err := s.store.InTx(ctx, func(q Queries) error {
		d, err := q.GetDiscount(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeOwner(op, actor, d.SellerID); err != nil {
			return err
		}
		touched, err = q.DeleteDiscount(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	s.committed(ctx, touched...)
	return nil
}

// ownedPair загружает скидку и товар и проверяет, что оба принадлежат actor.
func (s *Service) ownedPair(ctx context.Context, op string, actor model.Principal, discountID, productID string) (*model.Discount, error) {
	d, err := s.store.GetDiscount(ctx, discountID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(op, actor, d.SellerID); err != nil {
		return nil, err
	}
	if err := authorizeOwner(op, actor, p.SellerID); err != nil {
		return nil, err
	}
	if d.SellerID != p.SellerID {
		return nil, apperr.Forbidden(op, "discount and product belong to different sellers")
	}
	return d, nil
}

// ApplyDiscountToProduct привязывает скидку к товару: сначала товар попадает в
// applicable_products скидки, затем скидка кладётся в список товара по её
// сохранённому статусу. Сбой второго шага откатывает первый.
func (s *Service) ApplyDiscountToProduct(ctx context.Context, actor model.Principal, discountID, productID string) error {
	const op = "apply_discount"

	d, err := s.ownedPair(ctx, op, actor, discountID, productID)
	if err != nil {
		return err
	}
	if !d.IsActive {
		return apperr.Validation(op, "discount is not active")
	}
	if d.Status == model.DiscountExpired || discount.Status(s.now(), d.StartDate, d.EndDate) == model.DiscountExpired {
		return apperr.Validation(op, "discount has expired")
	}

	var (
		added bool
		moved []string
	)
	err = saga.New(op, s.logger, "discount_id", discountID, "product_id", productID).
		Step("add_applicable_product",
			func(ctx context.Context) (err error) {
				added, err = s.store.AddApplicableProduct(ctx, discountID, productID)
				return err
			},
			func(ctx context.Context) error {
				if !added {
					return nil
				}
				_, err := s.store.RemoveApplicableProduct(ctx, discountID, productID)
				return ignoreDeleted(err)
			}).
		Step("place_in_bucket",
			func(ctx context.Context) (err error) {
				moved, err = s.store.MoveDiscount(ctx, discountID, d.Status, []string{productID})
				return err
			}, nil).
		Run(ctx)
	if err != nil {
		s.consistencyFailure(ctx, op, err)
		return err
	}

	s.committed(ctx, moved...)
	return nil
}

// RemoveDiscountFromProduct отвязывает скидку от товара в обратном порядке шагов.
// Допустимо, пока скидка ещё не истекла.
func (s *Service) RemoveDiscountFromProduct(ctx context.Context, actor model.Principal, discountID, productID string) error {
	const op = "remove_discount"

	d, err := s.ownedPair(ctx, op, actor, discountID, productID)
	if err != nil {
		return err
	}
	if d.Status != model.DiscountUpcoming && d.Status != model.DiscountOngoing {
		return apperr.Validation(op, "discount in status %q can not be removed from a product", d.Status)
	}

	var removed, unplaced bool
	err = saga.New(op, s.logger, "discount_id", discountID, "product_id", productID).
		Step("remove_applicable_product",
			func(ctx context.Context) (err error) {
				removed, err = s.store.RemoveApplicableProduct(ctx, discountID, productID)
				return err
			},
			func(ctx context.Context) error {
				if !removed {
					return nil
				}
				_, err := s.store.AddApplicableProduct(ctx, discountID, productID)
				return ignoreDeleted(err)
			}).
		Step("remove_from_buckets",
			func(ctx context.Context) (err error) {
				unplaced, err = s.store.UnplaceDiscount(ctx, productID, discountID)
				return err
			}, nil).
		Run(ctx)
	if err != nil {
		s.consistencyFailure(ctx, op, err)
		return err
	}

	if unplaced {
		s.committed(ctx, productID)
	}
	return nil
}

// ignoreDeleted считает компенсацию выполненной, если скидку успели удалить:
// удаление само снимает её со всех товаров.
func ignoreDeleted(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) consistencyFailure(ctx context.Context, op string, err error) {
	if errors.Is(err, apperr.ErrConsistency) {
		s.metrics.ConsistencyFailure(ctx, op)
	}
}
