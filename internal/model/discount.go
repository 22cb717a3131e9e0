package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountStatus описывает состояние скидки во времени.
type DiscountStatus string

const (
	DiscountUpcoming DiscountStatus = "upcoming"
	DiscountOngoing  DiscountStatus = "ongoing"
	DiscountExpired  DiscountStatus = "expired"
)

// Rank задаёт порядок upcoming < ongoing < expired. Для неизвестного статуса возвращает -1.
func (s DiscountStatus) Rank() int {
	switch s {
	case DiscountUpcoming:
		return 0
	case DiscountOngoing:
		return 1
	case DiscountExpired:
		return 2
	}
	return -1
}

// Valid сообщает, известен ли статус.
func (s DiscountStatus) Valid() bool {
	return s.Rank() >= 0
}

// DiscountType описывает вид скидки, который выбирает продавец.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountBuyXGetY     DiscountType = "buy_x_get_y"
	DiscountFlashSale    DiscountType = "flash_sale"
	DiscountFirstTime    DiscountType = "first_time"
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Valid сообщает, известен ли тип скидки.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountBuyXGetY,
		DiscountFlashSale, DiscountFirstTime, DiscountFreeShipping:
		return true
	}
	return false
}

// Discount описывает запись скидки в реестре.
type Discount struct {
	ID                 string          `json:"id"`
	SellerID           string          `json:"seller_id"`
	Code               string          `json:"code"`
	Type               DiscountType    `json:"type"`
	Value              decimal.Decimal `json:"value"`
	Params             json.RawMessage `json:"params,omitempty"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
	Status             DiscountStatus  `json:"status"`
	IsActive           bool            `json:"is_active"`
	CurrentUses        int             `json:"current_uses"`
	MaxUses            int             `json:"max_uses"`
	CustomerUsageLimit int             `json:"customer_usage_limit"`
	ApplicableProducts []string        `json:"applicable_products"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
