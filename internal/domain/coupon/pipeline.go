package coupon

import (
	"time"

	"github.com/xenking/promo-engine/internal/domain/code"
)

// RequestContext carries the caller-supplied context a code is validated in.
type RequestContext struct {
	Now           time.Time
	CustomerID    string
	StoreID       string
	Channel       string
	PaymentMethod string
	IP            string
	Device        string
}

// CustomerUsage is the customer's relevant history, supplied by the caller so
// the pipeline itself stays side-effect free.
type CustomerUsage struct {
	// OrderCount is the customer's number of completed orders, for
	// first-order-only coupons.
	OrderCount int
	// Redemptions is the customer's active redemption count against this
	// coupon; DailyRedemptions counts only the current UTC day.
	Redemptions      int
	DailyRedemptions int
}

// ValidationInput bundles everything the pipeline inspects. Code is nil when
// the code string was not found.
type ValidationInput struct {
	Code       *code.Code
	Definition *Definition
	Customer   CustomerUsage
	Cart       Cart
	Ctx        RequestContext
}

// ValidationResult reports the outcome of the pipeline: either valid, or the
// first failing reason.
type ValidationResult struct {
	Valid   bool
	Reason  Reason
	Message string
}

func failed(r Reason) ValidationResult {
	return ValidationResult{Reason: r, Message: r.Message()}
}

// check is a single eligibility rule. It returns ReasonNone to pass.
type check func(in ValidationInput) Reason

// pipeline is the fixed check order. First failure wins, so error reporting
// is deterministic: code state, coupon state, time window, channel, store,
// customer eligibility, cart eligibility.
var pipeline = []check{
	checkCodeRedeemable,
	checkCouponActive,
	checkWindow,
	checkChannel,
	checkStore,
	checkCustomer,
	checkCart,
}

// Validate runs the eligibility pipeline. It is pure: no clock reads, no
// repository access, no mutation. Every input, including the current time,
// comes from the caller.
func Validate(in ValidationInput) ValidationResult {
	for _, c := range pipeline {
		if r := c(in); r != ReasonNone {
			return failed(r)
		}
	}
	return ValidationResult{Valid: true}
}

func checkCodeRedeemable(in ValidationInput) Reason {
	c := in.Code
	if c == nil {
		return ReasonCodeNotFound
	}
	if c.Status != code.StatusIssued {
		return ReasonCodeNotIssued
	}
	if c.Exhausted() {
		return ReasonCodeExhausted
	}
	if c.CustomerID != "" && c.CustomerID != in.Ctx.CustomerID {
		return ReasonCodeNotAssigned
	}
	return ReasonNone
}

func checkCouponActive(in ValidationInput) Reason {
	if in.Definition == nil || in.Definition.Status != StatusActive {
		return ReasonCouponNotActive
	}
	return ReasonNone
}

func checkWindow(in ValidationInput) Reason {
	d := in.Definition
	if d.WindowContains(in.Ctx.Now) {
		return ReasonNone
	}
	if !d.ValidFrom.IsZero() && in.Ctx.Now.Before(d.ValidFrom) {
		return ReasonCouponNotStarted
	}
	return ReasonCouponExpired
}

func checkChannel(in ValidationInput) Reason {
	allowed := in.Definition.Channels
	if !allowed.Empty() && !allowed.Has(in.Ctx.Channel) {
		return ReasonChannelNotAllowed
	}
	return ReasonNone
}

func checkStore(in ValidationInput) Reason {
	allowed := in.Definition.Stores
	if !allowed.Empty() && !allowed.Has(in.Ctx.StoreID) {
		return ReasonStoreNotAllowed
	}
	return ReasonNone
}

func checkCustomer(in ValidationInput) Reason {
	d := in.Definition
	if d.Target.FirstOrderOnly && in.Customer.OrderCount > 0 {
		return ReasonFirstOrderOnly
	}
	if d.PerCustomerLimit > 0 && in.Customer.Redemptions >= d.PerCustomerLimit {
		return ReasonCustomerLimitExceeded
	}
	if d.PerCustomerDailyLimit > 0 && in.Customer.DailyRedemptions >= d.PerCustomerDailyLimit {
		return ReasonDailyLimitExceeded
	}
	return ReasonNone
}

func checkCart(in ValidationInput) Reason {
	t := in.Definition.Target

	if t.MinCartValue.IsPositive() && in.Cart.Subtotal().LessThan(t.MinCartValue) {
		return ReasonMinCartValue
	}
	if t.MinQuantity > 0 && in.Cart.TotalQuantity() < t.MinQuantity {
		return ReasonMinQuantity
	}
	if !t.PaymentMethods.Empty() && !t.PaymentMethods.Has(in.Ctx.PaymentMethod) {
		return ReasonPaymentMethodNotAllowed
	}

	// Item-scoped types need at least one eligible item in the cart.
	// Shipping and bonus-item discounts do not depend on cart contents.
	switch in.Definition.Type {
	case TypeShippingOff, TypeFreeItem:
		return ReasonNone
	default:
		if len(t.EligibleItems(in.Cart)) == 0 {
			return ReasonRequiredItemsMissing
		}
	}
	return ReasonNone
}
