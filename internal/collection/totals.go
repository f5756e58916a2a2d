package collection

import (
	"encoding/json"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	// FreeShippingThreshold must be exceeded, not just reached.
	FreeShippingThreshold = decimal.NewFromInt(50)
	ShippingFee           = decimal.RequireFromString("9.99")
	TaxRate               = decimal.RequireFromString("0.08")
)

// Totals are the money figures of a cart, rounded to cents.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals prices the cart. Free shipping and tax are decided on the
// exact sum; only the reported figures are rounded to cents.
func ComputeTotals(items []domain.CartItem) Totals {
	sum := decimal.Zero
	for _, item := range items {
		line := decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	subtotal := sum.Round(2)

	shipping := ShippingFee
	if sum.GreaterThan(FreeShippingThreshold) {
		shipping = decimal.Zero
	}
	tax := sum.Mul(TaxRate).Round(2)

	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}

// MarshalJSON writes the figures as numbers with two decimals.
func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Subtotal json.Number `json:"subtotal"`
		Shipping json.Number `json:"shipping"`
		Tax      json.Number `json:"tax"`
		Total    json.Number `json:"total"`
	}{
		Subtotal: json.Number(t.Subtotal.StringFixed(2)),
		Shipping: json.Number(t.Shipping.StringFixed(2)),
		Tax:      json.Number(t.Tax.StringFixed(2)),
		Total:    json.Number(t.Total.StringFixed(2)),
	})
}
