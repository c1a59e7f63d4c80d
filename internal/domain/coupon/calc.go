package coupon

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/catalog"
)

// ShippingSKU is the pseudo-SKU used in breakdowns for shipping discounts.
const ShippingSKU = "SHIPPING"

var hundred = decimal.NewFromInt(100)

// AffectedItem is one line of the discount breakdown. Prices are line totals.
// Ineligible cart lines appear with a zero discount so callers can render the
// whole cart.
type AffectedItem struct {
	SKU             string          `json:"sku"`
	Qty             int             `json:"qty"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	Discount        decimal.Decimal `json:"discount"`
}

// Computation is the calculator output: the total discount, the per-line
// breakdown, and any human-readable warnings (e.g. cap clamping).
type Computation struct {
	Discount decimal.Decimal
	Items    []AffectedItem
	Warnings []string
}

// Calculate computes the discount for an already validated coupon against the
// cart. The switch over discount types is exhaustive: adding a type without a
// branch here fails the default arm.
//
// The result is clamped twice: to the definition's MaxDiscount (with a
// warning) and to the cart's pre-discount total, so the invariant
// 0 <= discount <= pre_discount always holds.
func Calculate(ctx context.Context, d *Definition, cart Cart, cat catalog.Catalog) (*Computation, error) {
	var (
		comp *Computation
		err  error
	)

	switch p := d.Params.(type) {
	case PercentParams:
		comp = calcPercent(d.Target, cart, p)
	case AmountParams:
		comp = calcAmount(d.Target, cart, p)
	case BogoParams:
		comp = calcBogo(d.Target, cart, p)
	case YopoParams:
		comp = calcYopo(d.Target, cart, p)
	case FreeItemParams:
		comp, err = calcFreeItem(ctx, cart, p, cat)
	case ShippingOffParams:
		comp = calcShipping(cart)
	default:
		return nil, errors.Wrapf(ErrInvalidParams, "unsupported discount type %q", d.Type)
	}
	if err != nil {
		return nil, err
	}

	comp.Discount = comp.Discount.Round(2)

	if d.MaxDiscount.IsPositive() && comp.Discount.GreaterThan(d.MaxDiscount) {
		comp.Warnings = append(comp.Warnings, fmt.Sprintf(
			"discount %s clamped to coupon maximum %s", comp.Discount, d.MaxDiscount))
		comp.Discount = d.MaxDiscount
	}
	if pre := cart.PreDiscountTotal(); comp.Discount.GreaterThan(pre) {
		comp.Discount = pre
	}
	return comp, nil
}

// calcPercent discounts every eligible line by a fixed percentage.
func calcPercent(t Target, cart Cart, p PercentParams) *Computation {
	comp := &Computation{Discount: decimal.Zero}
	for _, item := range cart.Items {
		line := untouched(item)
		if t.Matches(item) {
			line.Qty = item.Qty
			line.Discount = item.LineTotal().Mul(p.PercentOff).Div(hundred).Round(2)
			line.DiscountedPrice = line.OriginalPrice.Sub(line.Discount)
			comp.Discount = comp.Discount.Add(line.Discount)
		}
		comp.Items = append(comp.Items, line)
	}
	return comp
}

// calcAmount consumes a fixed amount across eligible lines in cart order,
// never exceeding a line's own total, until the amount or the eligible total
// is exhausted.
func calcAmount(t Target, cart Cart, p AmountParams) *Computation {
	comp := &Computation{Discount: decimal.Zero}
	remaining := p.AmountOff
	for _, item := range cart.Items {
		line := untouched(item)
		if t.Matches(item) && remaining.IsPositive() {
			line.Discount = decimal.Min(item.LineTotal(), remaining)
			line.Qty = item.Qty
			line.DiscountedPrice = line.OriginalPrice.Sub(line.Discount)
			remaining = remaining.Sub(line.Discount)
			comp.Discount = comp.Discount.Add(line.Discount)
		}
		comp.Items = append(comp.Items, line)
	}
	return comp
}

// calcBogo applies "buy X get Y" per eligible SKU: reward quantity is
// floor(qty/x)*y, capped at the line quantity, priced per the reward policy.
func calcBogo(t Target, cart Cart, p BogoParams) *Computation {
	comp := &Computation{Discount: decimal.Zero}
	for _, item := range cart.Items {
		line := untouched(item)
		if t.Matches(item) {
			rewardQty := item.Qty / p.BuyQty * p.GetQty
			if rewardQty > item.Qty {
				rewardQty = item.Qty
			}
			if rewardQty > 0 {
				perUnit := bogoUnitDiscount(item.UnitPrice, p)
				line.Qty = rewardQty
				line.Discount = perUnit.Mul(decimal.NewFromInt(int64(rewardQty))).Round(2)
				line.DiscountedPrice = line.OriginalPrice.Sub(line.Discount)
				comp.Discount = comp.Discount.Add(line.Discount)
			}
		}
		comp.Items = append(comp.Items, line)
	}
	return comp
}

// bogoUnitDiscount returns the discount on one reward unit.
func bogoUnitDiscount(unitPrice decimal.Decimal, p BogoParams) decimal.Decimal {
	switch p.Reward {
	case RewardPercentOff:
		return unitPrice.Mul(p.Value).Div(hundred)
	case RewardFixedPrice:
		d := unitPrice.Sub(p.Value)
		if d.IsNegative() {
			return decimal.Zero
		}
		return d
	default: // RewardFree
		return unitPrice
	}
}

// yopoUnit is one expanded eligible unit during YOPO grouping.
type yopoUnit struct {
	line  int
	price decimal.Decimal
}

// calcYopo groups eligible units into complete groups of GroupSize; in each
// group one unit pays (highest or lowest priced, per policy) and the rest are
// free. Incomplete trailing groups get no discount.
func calcYopo(t Target, cart Cart, p YopoParams) *Computation {
	comp := &Computation{Discount: decimal.Zero}

	var units []yopoUnit
	for i, item := range cart.Items {
		if !t.Matches(item) {
			continue
		}
		for range item.Qty {
			units = append(units, yopoUnit{line: i, price: item.UnitPrice})
		}
	}
	sort.SliceStable(units, func(a, b int) bool {
		return units[a].price.GreaterThan(units[b].price)
	})

	// Per-line discount and affected-unit tallies.
	lineDiscount := make([]decimal.Decimal, len(cart.Items))
	lineQty := make([]int, len(cart.Items))
	for i := range lineDiscount {
		lineDiscount[i] = decimal.Zero
	}

	groups := len(units) / p.GroupSize
	for g := range groups {
		group := units[g*p.GroupSize : (g+1)*p.GroupSize]

		// Units are sorted by price descending, so the highest-priced unit is
		// first and the lowest-priced is last.
		payable := 0
		if p.Payable == PayLowest {
			payable = len(group) - 1
		}
		for n, u := range group {
			if n == payable {
				continue
			}
			lineDiscount[u.line] = lineDiscount[u.line].Add(u.price)
			lineQty[u.line]++
		}
	}

	for i, item := range cart.Items {
		line := untouched(item)
		if lineQty[i] > 0 {
			line.Qty = lineQty[i]
			line.Discount = lineDiscount[i].Round(2)
			line.DiscountedPrice = line.OriginalPrice.Sub(line.Discount)
			comp.Discount = comp.Discount.Add(line.Discount)
		}
		comp.Items = append(comp.Items, line)
	}
	return comp
}

// calcFreeItem adds the bonus SKU at zero price, discounted by its catalog
// price. A failed catalog lookup is a dependency failure, never a free zero.
func calcFreeItem(ctx context.Context, cart Cart, p FreeItemParams, cat catalog.Catalog) (*Computation, error) {
	price, err := cat.Price(ctx, p.SKU)
	if err != nil {
		return nil, errors.Wrapf(err, "price free item %q", p.SKU)
	}

	comp := &Computation{Discount: decimal.Zero}
	for _, item := range cart.Items {
		comp.Items = append(comp.Items, untouched(item))
	}

	total := price.Mul(decimal.NewFromInt(int64(p.Qty))).Round(2)
	comp.Items = append(comp.Items, AffectedItem{
		SKU:             p.SKU,
		Qty:             p.Qty,
		OriginalPrice:   total,
		DiscountedPrice: decimal.Zero,
		Discount:        total,
	})
	comp.Discount = total
	return comp, nil
}

// calcShipping removes the shipping charge, up to the shipping amount itself.
func calcShipping(cart Cart) *Computation {
	comp := &Computation{Discount: cart.Shipping}
	for _, item := range cart.Items {
		comp.Items = append(comp.Items, untouched(item))
	}
	comp.Items = append(comp.Items, AffectedItem{
		SKU:             ShippingSKU,
		Qty:             1,
		OriginalPrice:   cart.Shipping,
		DiscountedPrice: decimal.Zero,
		Discount:        cart.Shipping,
	})
	return comp
}

// untouched returns a breakdown line with no discount applied.
func untouched(item LineItem) AffectedItem {
	total := item.LineTotal()
	return AffectedItem{
		SKU:             item.SKU,
		Qty:             0,
		OriginalPrice:   total,
		DiscountedPrice: total,
		Discount:        decimal.Zero,
	}
}
