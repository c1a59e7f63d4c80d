package coupon

import "github.com/shopspring/decimal"

// LineItem is one cart line for validation and calculation. Carts are
// ephemeral: they are supplied by the caller per request and never persisted
// by this subsystem.
type LineItem struct {
	SKU        string          `json:"sku"`
	Qty        int             `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Category   string          `json:"category,omitempty"`
	Collection string          `json:"collection,omitempty"`
}

// LineTotal returns unit price times quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Qty)))
}

// Cart is the live shopping cart a coupon is validated against. Consumed
// read-only.
type Cart struct {
	Items    []LineItem      `json:"items"`
	Shipping decimal.Decimal `json:"shipping"`
}

// Subtotal returns the sum of line totals, excluding shipping.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// TotalQuantity returns the sum of quantities across all lines.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Qty
	}
	return total
}

// PreDiscountTotal returns subtotal plus shipping, the amount a discount can
// never exceed.
func (c Cart) PreDiscountTotal() decimal.Decimal {
	return c.Subtotal().Add(c.Shipping)
}
