// Package redemption owns the redemption ledger: recording applied discounts
// and reversing them through cancel/refund, plus the service that ties code
// lookup, validation, and calculation together.
package redemption

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// Status enumerates redemption states. A redemption is created ACTIVE and is
// never deleted; cancel/refund are status transitions.
type Status string

const (
	// StatusActive is the initial state of every recorded redemption.
	StatusActive Status = "ACTIVE"
	// StatusCancelled reverses the redemption because the order was cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusRefunded reverses the redemption through a refund.
	StatusRefunded Status = "REFUNDED"
)

// ErrRedemptionNotFound is returned when no redemption exists for an order.
var ErrRedemptionNotFound = errors.New("redemption not found")

// Redemption records one successful coupon application against an order.
// The core fields are immutable; only Status and the reversal metadata change.
type Redemption struct {
	ID         string
	CouponID   string
	Code       string
	CustomerID string
	StoreID    string
	Channel    string
	OrderID    string

	PreDiscount decimal.Decimal
	Discount    decimal.Decimal
	Items       []coupon.AffectedItem

	Status Status

	IP            string
	Device        string
	PaymentMethod string

	CancelReason string
	RefundID     string
	RefundAmount decimal.Decimal

	RedeemedAt time.Time
	UpdatedAt  time.Time
}

// Limits is the per-customer usage constraint enforced atomically at record
// time, alongside the code's own max_uses.
type Limits struct {
	PerCustomerTotal int
	PerCustomerDaily int
}

// ConflictError reports that the atomic usage increment lost a race: a
// concurrent apply reached the limit first. Callers surface it as the
// corresponding limit-exceeded validation reason, never as a generic error.
type ConflictError struct {
	Reason coupon.Reason
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("apply conflict: %s", e.Reason)
}

// Patch carries the reversal metadata for a status transition.
type Patch struct {
	Reason       string
	RefundID     string
	RefundAmount decimal.Decimal
}

// Analytics is the aggregate rollup for a coupon over a date range.
type Analytics struct {
	CouponID string    `json:"coupon_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`

	Total     int `json:"total"`
	Active    int `json:"active"`
	Cancelled int `json:"cancelled"`
	Refunded  int `json:"refunded"`

	TotalDiscount    decimal.Decimal `json:"total_discount"`
	ActiveDiscount   decimal.Decimal `json:"active_discount"`
	TotalPreDiscount decimal.Decimal `json:"total_pre_discount"`
}

// Ledger provides persistence for redemptions.
//
// Record is the subsystem's only mutating hot path: within one atomic unit it
// conditionally consumes one use of the code (still ISSUED, still under its
// own and the customer's limits) and inserts the redemption. When the
// conditional step fails it returns a *ConflictError and writes nothing.
//
// Transition moves an ACTIVE redemption to a terminal status and releases one
// use of the code in the same atomic unit. Called on an already terminal
// redemption it returns the stored row unchanged, keeping retries idempotent.
type Ledger interface {
	Record(ctx context.Context, r *Redemption, limits Limits) error
	FindByOrder(ctx context.Context, orderID string) (*Redemption, error)
	Transition(ctx context.Context, orderID string, to Status, patch Patch) (*Redemption, error)
	Aggregate(ctx context.Context, couponID string, from, to time.Time) (*Analytics, error)
}

// UsageCounter reports a customer's active redemption tallies for a coupon.
// Implemented by the ledger storage; used to pre-check limits during the
// read-only validate path.
type UsageCounter interface {
	CustomerRedemptions(ctx context.Context, couponID, customerID string, dayStart time.Time) (total, daily int, err error)
}

// CustomerHistory is the order/customer collaborator: it answers how many
// completed orders a customer has, for first-order-only coupons.
type CustomerHistory interface {
	OrderCount(ctx context.Context, customerID string) (int, error)
}
