package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
)

func TestIsValidSKU(t *testing.T) {
	tests := []struct {
		name  string
		sku   string
		valid bool
	}{
		{name: "letters and digits", sku: "TSHIRT-RED-42", valid: true},
		{name: "underscore", sku: "mug_350", valid: true},
		{name: "empty", sku: "", valid: false},
		{name: "space", sku: "RED 42", valid: false},
		{name: "cyrillic", sku: "футболка", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidSKU(tt.sku)
			if got != tt.valid {
				t.Fatalf("IsValidSKU(%q) = %v, want %v", tt.sku, got, tt.valid)
			}
		})
	}
}

func TestProductInput(t *testing.T) {
	price := decimal.RequireFromString("9.99")

	tests := []struct {
		name     string
		pname    string
		variants []model.Variant
		wantErr  bool
	}{
		{name: "valid", pname: "Mug", variants: []model.Variant{{SKU: "M1", Stock: 3, Price: price}}},
		{name: "no name", pname: " ", variants: []model.Variant{{SKU: "M1", Price: price}}, wantErr: true},
		{name: "no variants", pname: "Mug", wantErr: true},
		{name: "duplicate sku", pname: "Mug", variants: []model.Variant{{SKU: "M1", Price: price}, {SKU: "M1", Price: price}}, wantErr: true},
		{name: "negative stock", pname: "Mug", variants: []model.Variant{{SKU: "M1", Stock: -1, Price: price}}, wantErr: true},
		{name: "zero price", pname: "Mug", variants: []model.Variant{{SKU: "M1", Price: decimal.Zero}}, wantErr: true},
		{name: "fractional cents", pname: "Mug", variants: []model.Variant{{SKU: "M1", Price: decimal.RequireFromString("1.005")}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ProductInput(tt.pname, "kitchen", tt.variants)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOrderItems(t *testing.T) {
	item := model.OrderItem{ProductID: "p1", SKU: "s1", Quantity: 1}

	require.NoError(t, OrderItems([]model.OrderItem{item}, model.PaymentPrepaid))
	require.ErrorIs(t, OrderItems(nil, model.PaymentPrepaid), apperr.ErrValidation)
	require.ErrorIs(t, OrderItems([]model.OrderItem{item}, "crypto"), apperr.ErrValidation)
	require.ErrorIs(t, OrderItems([]model.OrderItem{item, item}, model.PaymentPostpaid), apperr.ErrValidation)

	zero := item
	zero.Quantity = 0
	require.ErrorIs(t, OrderItems([]model.OrderItem{zero}, model.PaymentPrepaid), apperr.ErrValidation)
}
