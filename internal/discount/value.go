package discount

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

// Line описывает строку заказа, к которой применяется скидка.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal возвращает сумму строки без скидки.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Calculator возвращает итоговую сумму строки после применения скидки.
type Calculator func(d *model.Discount, line Line) (decimal.Decimal, error)

// Типы buy_x_get_y и first_time при оформлении заказа не поддерживаются.
var calculators = map[model.DiscountType]Calculator{
	model.DiscountPercentage:   percentageOff,
	model.DiscountFlashSale:    percentageOff,
	model.DiscountFixed:        fixedOff,
	model.DiscountFreeShipping: noLineEffect,
}

// Apply применяет скидку к строке. d == nil означает строку без скидки.
func Apply(d *model.Discount, line Line) (decimal.Decimal, error) {
	if d == nil {
		return line.Subtotal(), nil
	}

	c, ok := calculators[d.Type]
	if !ok {
		return decimal.Zero, apperr.Validation("apply_discount", "discount type %q is not supported at checkout", d.Type)
	}
	return c(d, line)
}

func percentageOff(d *model.Discount, line Line) (decimal.Decimal, error) {
	subtotal := line.Subtotal()
	off := subtotal.Mul(d.Value).Div(hundred).Round(2)
	return subtotal.Sub(off), nil
}

func fixedOff(d *model.Discount, line Line) (decimal.Decimal, error) {
	total := line.Subtotal().Sub(d.Value)
	if total.IsNegative() {
		return decimal.Zero, nil
	}
	return total, nil
}

func noLineEffect(_ *model.Discount, line Line) (decimal.Decimal, error) {
	return line.Subtotal(), nil
}
