package discount

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

const (
	flashSaleMinDuration = time.Hour
	flashSaleMaxDuration = 10 * time.Hour
	maxCodeLength        = 64
)

var (
	hundred = decimal.NewFromInt(100)
	// Предел колонки NUMERIC(12,2).
	maxValue = decimal.New(1, 10)
)

// Validate проверяет новую скидку до любых изменений в хранилище.
func Validate(d *model.Discount, now time.Time) error {
	const op = "validate_discount"

	code := strings.TrimSpace(d.Code)
	if code == "" {
		return apperr.Validation(op, "discount code is required")
	}
	if len(code) > maxCodeLength {
		return apperr.Validation(op, "discount code is longer than %d characters", maxCodeLength)
	}
	if !d.Type.Valid() {
		return apperr.Validation(op, "unknown discount type %q", d.Type)
	}
	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return apperr.Validation(op, "start_date and end_date are required")
	}
	if !d.EndDate.After(d.StartDate) {
		return apperr.Validation(op, "end_date must be after start_date")
	}
	if !d.EndDate.After(now) {
		return apperr.Validation(op, "end_date must be in the future")
	}
	if d.MaxUses < 0 || d.CustomerUsageLimit < 0 {
		return apperr.Validation(op, "usage limits must not be negative")
	}
	// Хранилище молча округлило бы лишние знаки.
	if !d.Value.Equal(d.Value.Round(2)) {
		return apperr.Validation(op, "value must have at most two decimal places")
	}
	if d.Value.Abs().GreaterThanOrEqual(maxValue) {
		return apperr.Validation(op, "value is too large")
	}

	switch d.Type {
	case model.DiscountPercentage:
		return validatePercentage(op, d.Value)
	case model.DiscountFlashSale:
		if err := validatePercentage(op, d.Value); err != nil {
			return err
		}
		return ValidateFlashSaleWindow(d.StartDate, d.EndDate)
	case model.DiscountFixed:
		if !d.Value.IsPositive() {
			return apperr.Validation(op, "fixed discount value must be positive")
		}
	}
	return nil
}

func validatePercentage(op string, v decimal.Decimal) error {
	if !v.IsPositive() || v.GreaterThan(hundred) {
		return apperr.Validation(op, "percentage must be in (0, 100]")
	}
	return nil
}

// ValidateFlashSaleWindow проверяет окно флеш-распродажи: начало и конец ровно
// на границе часа, длительность от 1 до 10 часов включительно.
func ValidateFlashSaleWindow(start, end time.Time) error {
	const op = "validate_flash_sale"

	if !onTheHour(start) || !onTheHour(end) {
		return apperr.Validation(op, "flash sale must start and end exactly on the hour")
	}
	d := end.Sub(start)
	if d < flashSaleMinDuration || d > flashSaleMaxDuration {
		return apperr.Validation(op, "flash sale must last between 1 and 10 hours")
	}
	return nil
}

// onTheHour сравнивает в UTC: в поясах со сдвигом в полчаса локальное «ровно»
// не совпадает с границей часа по UTC.
func onTheHour(t time.Time) bool {
	t = t.UTC()
	return t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
