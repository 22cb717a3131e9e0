// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

const (
	maxNameLength  = 200
	maxSKULength   = 64
	maxOrderItems  = 50
	maxQuantity    = 1000
	maxCategoryLen = 100
)

// IsValidSKU проверяет формат SKU: латинские буквы, цифры, '-' и '_'.
func IsValidSKU(sku string) bool {
	if sku == "" || len(sku) > maxSKULength {
		return false
	}

	for _, ch := range sku {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' && ch != '_' {
			return false
		}
	}

	return true
}

// ProductInput проверяет поля нового товара.
func ProductInput(name, category string, variants []model.Variant) error {
	const op = "validate_product"

	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation(op, "product name is required")
	}
	if len(name) > maxNameLength {
		return apperr.Validation(op, "product name is longer than %d characters", maxNameLength)
	}
	if len(strings.TrimSpace(category)) > maxCategoryLen {
		return apperr.Validation(op, "category is longer than %d characters", maxCategoryLen)
	}
	if len(variants) == 0 {
		return apperr.Validation(op, "at least one variant is required")
	}

	return Variants(variants)
}

// Variants проверяет уникальность SKU, остатки и цены.
func Variants(variants []model.Variant) error {
	const op = "validate_variants"

	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if !IsValidSKU(v.SKU) {
			return apperr.Validation(op, "invalid sku %q", v.SKU)
		}
		if _, dup := seen[v.SKU]; dup {
			return apperr.Validation(op, "duplicate sku %q", v.SKU)
		}
		seen[v.SKU] = struct{}{}

		if v.Stock < 0 {
			return apperr.Validation(op, "stock for sku %q must not be negative", v.SKU)
		}
		if err := Price(v.Price); err != nil {
			return err
		}
	}

	return nil
}

// Price проверяет, что цена положительна и не содержит долей копейки.
func Price(p decimal.Decimal) error {
	if !p.IsPositive() {
		return apperr.Validation("validate_price", "price must be positive")
	}
	if !p.Equal(p.Round(2)) {
		return apperr.Validation("validate_price", "price must have at most two decimal places")
	}
	return nil
}

// Quantity проверяет количество единиц в позиции.
func Quantity(q int) error {
	if q <= 0 || q > maxQuantity {
		return apperr.Validation("validate_quantity", "quantity must be between 1 and %d", maxQuantity)
	}
	return nil
}

// OrderItems проверяет состав заказа. Одна и та же пара товар/SKU не может
// встречаться дважды.
func OrderItems(items []model.OrderItem, method model.PaymentMethod) error {
	const op = "validate_order"

	if len(items) == 0 {
		return apperr.Validation(op, "order must contain at least one item")
	}
	if len(items) > maxOrderItems {
		return apperr.Validation(op, "order must contain at most %d items", maxOrderItems)
	}
	if !method.Valid() {
		return apperr.Validation(op, "unknown payment method %q", method)
	}

	seen := make(map[[2]string]struct{}, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ProductID) == "" || it.SKU == "" {
			return apperr.Validation(op, "product_id and sku are required")
		}
		if err := Quantity(it.Quantity); err != nil {
			return err
		}
		key := [2]string{it.ProductID, it.SKU}
		if _, dup := seen[key]; dup {
			return apperr.Validation(op, "duplicate item %s/%s", it.ProductID, it.SKU)
		}
		seen[key] = struct{}{}
	}

	return nil
}
