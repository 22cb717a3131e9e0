// Package model содержит доменные сущности каталога маркетплейса.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль аутентифицированного участника.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Principal описывает участника, которого передал слой аутентификации. Ядро ему доверяет.
type Principal struct {
	ID   string
	Role Role
}

// Variant описывает SKU товара с собственным остатком и ценой.
type Variant struct {
	SKU   string          `json:"sku"`
	Stock int             `json:"stock"`
	Price decimal.Decimal `json:"price"`
}

// Product описывает документ товара в основном хранилище каталога.
type Product struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Variants    []Variant `json:"variants"`
	Discounts   Buckets   `json:"discounts"`
	IsActive    bool      `json:"is_active"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Variant возвращает вариант по SKU.
func (p *Product) Variant(sku string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return Variant{}, false
}

// MinPrice возвращает минимальную цену среди вариантов.
func (p *Product) MinPrice() decimal.Decimal {
	var minPrice decimal.Decimal
	for i, v := range p.Variants {
		if i == 0 || v.Price.LessThan(minPrice) {
			minPrice = v.Price
		}
	}
	return minPrice
}

// TotalStock возвращает суммарный остаток по всем вариантам.
func (p *Product) TotalStock() int {
	total := 0
	for _, v := range p.Variants {
		total += v.Stock
	}
	return total
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusRefused   OrderStatus = "refused"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentPrepaid  PaymentMethod = "prepaid"
	PaymentPostpaid PaymentMethod = "postpaid"
)

// Valid сообщает, поддерживается ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentPrepaid || m == PaymentPostpaid
}

// PaymentStatus описывает состояние платёжной записи.
type PaymentStatus string

const (
	PaymentAwaitingSettlement PaymentStatus = "awaiting_settlement"
	PaymentDeferred           PaymentStatus = "deferred"
	PaymentVoided             PaymentStatus = "voided"
)

// InitialStatus возвращает статус платежа при создании заказа.
func (m PaymentMethod) InitialStatus() PaymentStatus {
	if m == PaymentPrepaid {
		return PaymentAwaitingSettlement
	}
	return PaymentDeferred
}

// Order описывает строку заказа. Заказ всегда относится к одному продавцу.
type Order struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	SellerID      string          `json:"seller_id"`
	ProductID     string          `json:"product_id"`
	SKU           string          `json:"sku"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	DiscountID    string          `json:"discount_id,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        OrderStatus     `json:"order_status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Payment описывает платёжную запись, связанную с заказом.
type Payment struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	SellerID   string          `json:"seller_id"`
	Method     PaymentMethod   `json:"method"`
	Status     PaymentStatus   `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OrderItem описывает позицию, которую покупатель оформляет в заказ.
type OrderItem struct {
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
	DiscountID string `json:"discount_id,omitempty"`
}

// CartItem описывает позицию корзины покупателя.
type CartItem struct {
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
}

// SearchDocument содержит денормализованную копию товара в поисковом индексе.
type SearchDocument struct {
	ProductID        string          `json:"product_id"`
	SellerID         string          `json:"seller_id"`
	Name             string          `json:"name"`
	Slug             string          `json:"slug"`
	Category         string          `json:"category"`
	Description      string          `json:"description"`
	MinPrice         decimal.Decimal `json:"min_price"`
	InStock          bool            `json:"in_stock"`
	IsActive         bool            `json:"is_active"`
	OngoingDiscounts []string        `json:"ongoing_discounts"`
	Version          int64           `json:"version"`
	Deleted          bool            `json:"deleted"`
}

// NewSearchDocument строит документ индекса из товара.
func NewSearchDocument(p *Product) SearchDocument {
	return SearchDocument{
		ProductID:        p.ID,
		SellerID:         p.SellerID,
		Name:             p.Name,
		Slug:             p.Slug,
		Category:         p.Category,
		Description:      p.Description,
		MinPrice:         p.MinPrice(),
		InStock:          p.TotalStock() > 0,
		IsActive:         p.IsActive,
		OngoingDiscounts: p.Discounts.Ongoing.IDs(),
		Version:          p.Version,
	}
}

// CategoryCount содержит количество активных товаров в категории.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
