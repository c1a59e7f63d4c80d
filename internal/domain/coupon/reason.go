package coupon

// Reason is a machine-readable validation failure code. The set is closed:
// every pipeline check maps to exactly one reason, so callers always receive
// one specific reason and never a bare "failed".
type Reason string

const (
	// ReasonNone means validation passed.
	ReasonNone Reason = ""
	// ReasonCodeNotFound: the code string is unknown.
	ReasonCodeNotFound Reason = "CODE_NOT_FOUND"
	// ReasonCodeNotIssued: the code exists but is revoked, expired, or already redeemed.
	ReasonCodeNotIssued Reason = "CODE_NOT_ISSUED"
	// ReasonCodeExhausted: the individual code has no uses left.
	ReasonCodeExhausted Reason = "CODE_USES_EXHAUSTED"
	// ReasonCodeNotAssigned: the code is bound to a different customer.
	ReasonCodeNotAssigned Reason = "CODE_NOT_ASSIGNED_TO_CUSTOMER"
	// ReasonCouponNotActive: the owning coupon is not in ACTIVE status.
	ReasonCouponNotActive Reason = "COUPON_NOT_ACTIVE"
	// ReasonCouponNotStarted: the current time is before the validity window.
	ReasonCouponNotStarted Reason = "COUPON_NOT_STARTED"
	// ReasonCouponExpired: the current time is after the validity window.
	ReasonCouponExpired Reason = "COUPON_EXPIRED"
	// ReasonChannelNotAllowed: the requesting channel is not on the allow-list.
	ReasonChannelNotAllowed Reason = "CHANNEL_NOT_ALLOWED"
	// ReasonStoreNotAllowed: the requesting store is not on the allow-list.
	ReasonStoreNotAllowed Reason = "STORE_NOT_ALLOWED"
	// ReasonFirstOrderOnly: the customer already has completed orders.
	ReasonFirstOrderOnly Reason = "FIRST_ORDER_ONLY"
	// ReasonCustomerLimitExceeded: per-customer total redemption limit reached.
	ReasonCustomerLimitExceeded Reason = "CUSTOMER_LIMIT_EXCEEDED"
	// ReasonDailyLimitExceeded: per-customer daily redemption limit reached.
	ReasonDailyLimitExceeded Reason = "DAILY_LIMIT_EXCEEDED"
	// ReasonMinCartValue: the cart subtotal is below the required minimum.
	ReasonMinCartValue Reason = "MIN_CART_VALUE_NOT_MET"
	// ReasonMinQuantity: the cart holds fewer units than required.
	ReasonMinQuantity Reason = "MIN_QUANTITY_NOT_MET"
	// ReasonRequiredItemsMissing: no cart item matches the target sets.
	ReasonRequiredItemsMissing Reason = "REQUIRED_ITEMS_MISSING"
	// ReasonPaymentMethodNotAllowed: the payment method is not on the allow-list.
	ReasonPaymentMethodNotAllowed Reason = "PAYMENT_METHOD_NOT_ALLOWED"
)

// messages holds the human-readable text for each reason.
var messages = map[Reason]string{
	ReasonCodeNotFound:            "coupon code does not exist",
	ReasonCodeNotIssued:           "coupon code is no longer redeemable",
	ReasonCodeExhausted:           "coupon code has no uses left",
	ReasonCodeNotAssigned:         "coupon code belongs to another customer",
	ReasonCouponNotActive:         "coupon is not active",
	ReasonCouponNotStarted:        "coupon is not valid yet",
	ReasonCouponExpired:           "coupon has expired",
	ReasonChannelNotAllowed:       "coupon cannot be used on this channel",
	ReasonStoreNotAllowed:         "coupon cannot be used at this store",
	ReasonFirstOrderOnly:          "coupon is valid on the first order only",
	ReasonCustomerLimitExceeded:   "customer has reached the usage limit for this coupon",
	ReasonDailyLimitExceeded:      "customer has reached today's usage limit for this coupon",
	ReasonMinCartValue:            "cart value is below the coupon minimum",
	ReasonMinQuantity:             "cart has fewer items than the coupon minimum",
	ReasonRequiredItemsMissing:    "cart has no items this coupon applies to",
	ReasonPaymentMethodNotAllowed: "coupon cannot be used with this payment method",
}

// Message returns the human-readable text for the reason.
func (r Reason) Message() string {
	if m, ok := messages[r]; ok {
		return m
	}
	return string(r)
}
