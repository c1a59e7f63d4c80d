package coupon

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies. The set
// is closed: each type has a dedicated Params variant and an exhaustive
// branch in Calculate.
type DiscountType string

const (
	// TypePercent takes a percentage off every eligible line item.
	TypePercent DiscountType = "PERCENT"
	// TypeAmount consumes a fixed amount across eligible items in cart order.
	TypeAmount DiscountType = "AMOUNT"
	// TypeBogo is "buy X get Y" free or discounted, per eligible SKU.
	TypeBogo DiscountType = "BOGO"
	// TypeYopo is "you only pay for one": within fixed-size groups of eligible
	// units, one designated unit is charged and the rest are free.
	TypeYopo DiscountType = "YOPO"
	// TypeFreeItem adds a zero-priced bonus SKU priced via the catalog.
	TypeFreeItem DiscountType = "FREE_ITEM"
	// TypeShippingOff discounts the cart's shipping total.
	TypeShippingOff DiscountType = "SHIPPING_OFF"
)

// ErrInvalidParams wraps every parameter completeness failure.
var ErrInvalidParams = errors.New("invalid discount parameters")

// Params is the closed variant of type-specific discount parameters. Exactly
// one concrete type exists per DiscountType.
type Params interface {
	DiscountType() DiscountType
	// Validate checks parameter completeness; called on create and activate.
	Validate() error
}

// PercentParams configures a PERCENT discount.
type PercentParams struct {
	PercentOff decimal.Decimal `json:"percent_off"`
}

// DiscountType implements Params.
func (PercentParams) DiscountType() DiscountType { return TypePercent }

// Validate requires 0 < percent_off <= 100.
func (p PercentParams) Validate() error {
	if !p.PercentOff.IsPositive() || p.PercentOff.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Wrap(ErrInvalidParams, "percent_off must be in (0, 100]")
	}
	return nil
}

// AmountParams configures an AMOUNT discount.
type AmountParams struct {
	AmountOff decimal.Decimal `json:"amount_off"`
}

// DiscountType implements Params.
func (AmountParams) DiscountType() DiscountType { return TypeAmount }

// Validate requires a positive amount_off.
func (p AmountParams) Validate() error {
	if !p.AmountOff.IsPositive() {
		return errors.Wrap(ErrInvalidParams, "amount_off must be positive")
	}
	return nil
}

// BogoReward selects how the "get Y" units of a BOGO coupon are priced.
type BogoReward string

const (
	// RewardFree makes the reward units fully free.
	RewardFree BogoReward = "FREE"
	// RewardPercentOff discounts the reward units by Value percent.
	RewardPercentOff BogoReward = "PERCENTAGE_OFF"
	// RewardFixedPrice resells the reward units at the fixed price Value.
	RewardFixedPrice BogoReward = "FIXED_PRICE"
)

// BogoParams configures a BOGO discount: buy BuyQty of an eligible SKU, get
// GetQty of the same SKU at the reward price.
type BogoParams struct {
	BuyQty int             `json:"x"`
	GetQty int             `json:"y"`
	Reward BogoReward      `json:"reward"`
	Value  decimal.Decimal `json:"value"`
}

// DiscountType implements Params.
func (BogoParams) DiscountType() DiscountType { return TypeBogo }

// Validate requires positive quantities and a known reward with a coherent value.
func (p BogoParams) Validate() error {
	if p.BuyQty < 1 || p.GetQty < 1 {
		return errors.Wrap(ErrInvalidParams, "bogo x and y must be at least 1")
	}
	switch p.Reward {
	case RewardFree:
		return nil
	case RewardPercentOff:
		if !p.Value.IsPositive() || p.Value.GreaterThan(decimal.NewFromInt(100)) {
			return errors.Wrap(ErrInvalidParams, "bogo percentage value must be in (0, 100]")
		}
		return nil
	case RewardFixedPrice:
		if p.Value.IsNegative() {
			return errors.Wrap(ErrInvalidParams, "bogo fixed price must not be negative")
		}
		return nil
	default:
		return errors.Wrapf(ErrInvalidParams, "unknown bogo reward %q", p.Reward)
	}
}

// YopoPayable selects which unit of each group is charged.
type YopoPayable string

const (
	// PayHighest charges the most expensive unit of each group.
	PayHighest YopoPayable = "HIGHEST"
	// PayLowest charges the cheapest unit of each group.
	PayLowest YopoPayable = "LOWEST"
)

// YopoParams configures a YOPO discount: eligible units are grouped into
// complete groups of GroupSize; within each, the Payable unit is charged and
// the rest are discounted to zero.
type YopoParams struct {
	GroupSize int         `json:"group_size"`
	Payable   YopoPayable `json:"payable"`
}

// DiscountType implements Params.
func (YopoParams) DiscountType() DiscountType { return TypeYopo }

// Validate requires a group of at least two and a known payable policy.
func (p YopoParams) Validate() error {
	if p.GroupSize < 2 {
		return errors.Wrap(ErrInvalidParams, "yopo group_size must be at least 2")
	}
	if p.Payable != PayHighest && p.Payable != PayLowest {
		return errors.Wrapf(ErrInvalidParams, "unknown yopo payable %q", p.Payable)
	}
	return nil
}

// FreeItemParams configures a FREE_ITEM discount: Qty units of SKU are added
// to the order at zero price, discounted by their catalog price.
type FreeItemParams struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// DiscountType implements Params.
func (FreeItemParams) DiscountType() DiscountType { return TypeFreeItem }

// Validate requires a SKU and a positive quantity.
func (p FreeItemParams) Validate() error {
	if p.SKU == "" {
		return errors.Wrap(ErrInvalidParams, "free item sku required")
	}
	if p.Qty < 1 {
		return errors.Wrap(ErrInvalidParams, "free item qty must be at least 1")
	}
	return nil
}

// ShippingOffParams configures a SHIPPING_OFF discount, removing the cart's
// shipping charge up to the shipping amount itself.
type ShippingOffParams struct{}

// DiscountType implements Params.
func (ShippingOffParams) DiscountType() DiscountType { return TypeShippingOff }

// Validate always succeeds; the type carries no parameters.
func (ShippingOffParams) Validate() error { return nil }

// DecodeParams unmarshals the JSON parameter document for the given type into
// its concrete Params variant.
func DecodeParams(t DiscountType, data []byte) (Params, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	switch t {
	case TypePercent:
		return decodeInto[PercentParams](data)
	case TypeAmount:
		return decodeInto[AmountParams](data)
	case TypeBogo:
		return decodeInto[BogoParams](data)
	case TypeYopo:
		return decodeInto[YopoParams](data)
	case TypeFreeItem:
		return decodeInto[FreeItemParams](data)
	case TypeShippingOff:
		return decodeInto[ShippingOffParams](data)
	default:
		return nil, errors.Wrapf(ErrInvalidParams, "unknown discount type %q", t)
	}
}

func decodeInto[P Params](data []byte) (Params, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode discount parameters")
	}
	return p, nil
}
