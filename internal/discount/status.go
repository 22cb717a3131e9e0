// Package discount содержит чистые функции жизненного цикла скидок:
// вычисление статуса по времени, правила валидации и расчёт суммы скидки.
package discount

import (
	"time"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

// Status вычисляет статус скидки в момент now.
// upcoming: now < start; ongoing: start <= now <= end; expired: now > end.
func Status(now, start, end time.Time) model.DiscountStatus {
	switch {
	case now.Before(start):
		return model.DiscountUpcoming
	case now.After(end):
		return model.DiscountExpired
	default:
		return model.DiscountOngoing
	}
}

// Advance возвращает статус, в который скидку нужно перевести в момент now,
// и false, если переход не требуется. Статус никогда не движется назад.
func Advance(d *model.Discount, now time.Time) (model.DiscountStatus, bool) {
	next := Status(now, d.StartDate, d.EndDate)
	if next.Rank() <= d.Status.Rank() {
		return d.Status, false
	}
	return next, true
}
