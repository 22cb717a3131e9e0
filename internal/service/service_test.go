package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

var (
	testNow  = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seller   = model.Principal{ID: "seller-1", Role: model.RoleSeller}
	rival    = model.Principal{ID: "seller-2", Role: model.RoleSeller}
	customer = model.Principal{ID: "customer-1", Role: model.RoleCustomer}
	admin    = model.Principal{ID: "admin-1", Role: model.RoleAdmin}
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, store *memStore, opts Options) (*Service, *clock) {
	t.Helper()

	c := &clock{now: testNow}
	if opts.Clock == nil {
		opts.Clock = c.Now
	}
	opts.Logger = zap.NewNop()
	return NewService(store, opts), c
}

func seedProduct(store *memStore, id, sellerID string, stock int, price string) model.Product {
	p := model.Product{
		ID:       id,
		SellerID: sellerID,
		Name:     "Product " + id,
		Slug:     "product-" + id,
		Category: "misc",
		Variants: []model.Variant{{SKU: "SKU-1", Stock: stock, Price: decimal.RequireFromString(price)}},
		IsActive: true,
		Version:  1,
	}
	store.putProduct(p)
	return p
}

func seedDiscount(store *memStore, id, sellerID string, status model.DiscountStatus, start, end time.Time) model.Discount {
	d := model.Discount{
		ID:                 id,
		SellerID:           sellerID,
		Code:               "CODE-" + id,
		Type:               model.DiscountPercentage,
		Value:              decimal.NewFromInt(10),
		StartDate:          start,
		EndDate:            end,
		Status:             status,
		IsActive:           true,
		ApplicableProducts: []string{},
	}
	store.putDiscount(d)
	return d
}

// placeOngoing кладёт скидку в ongoing-список товара, как это сделал бы apply.
func placeOngoing(store *memStore, productID, discountID string) {
	p := store.snapshotProduct(productID)
	_, _ = p.Discounts.Place(discountID, model.DiscountOngoing)
	store.putProduct(p)

	d := store.snapshotDiscount(discountID)
	d.ApplicableProducts = append(d.ApplicableProducts, productID)
	store.putDiscount(d)
}
