// Package coupon owns the promotional discount domain: coupon definitions and
// their lifecycle, the eligibility validation pipeline, and the discount
// calculation strategies.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of a coupon definition.
type Status string

const (
	// StatusDraft is the authoring state; no validation or redemption happens.
	StatusDraft Status = "DRAFT"
	// StatusActive allows validation and redemption.
	StatusActive Status = "ACTIVE"
	// StatusPaused temporarily blocks redemption; reversible.
	StatusPaused Status = "PAUSED"
	// StatusArchived is terminal: no new codes, no new redemptions, history kept.
	StatusArchived Status = "ARCHIVED"
)

var (
	// ErrCouponNotFound is returned when no definition exists for an id.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrArchived is returned when a terminal coupon is mutated or issued against.
	ErrArchived = errors.New("coupon is archived")
	// ErrNoUsableCodes is returned when activating a coupon that has no
	// redeemable codes.
	ErrNoUsableCodes = errors.New("coupon has no usable codes")
)

// Stacking declares which other order-level benefits this coupon's discount
// may combine with.
type Stacking struct {
	WithLoyalty bool `json:"with_loyalty"`
	WithWallet  bool `json:"with_wallet"`
}

// Definition is a reusable discount policy. Once codes have been redeemed
// against it, edits have no retroactive effect on settled redemptions: the
// ledger stores computed amounts, never re-derives them.
type Definition struct {
	ID     string
	Name   string
	Type   DiscountType
	Params Params
	Target Target

	// PerCustomerLimit caps total active redemptions per customer; zero means
	// unlimited. PerCustomerDailyLimit does the same per UTC calendar day.
	PerCustomerLimit      int
	PerCustomerDailyLimit int

	// MaxDiscount is a hard clamp on the computed discount. Zero means no cap.
	MaxDiscount decimal.Decimal

	ValidFrom  time.Time
	ValidUntil time.Time

	// Channels and Stores are allow-lists; empty means all are allowed.
	Channels Set
	Stores   Set

	Stacking Stacking
	Status   Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WindowContains reports whether the instant falls inside the validity window.
// A zero bound is open on that side.
func (d *Definition) WindowContains(t time.Time) bool {
	if !d.ValidFrom.IsZero() && t.Before(d.ValidFrom) {
		return false
	}
	if !d.ValidUntil.IsZero() && t.After(d.ValidUntil) {
		return false
	}
	return true
}

// Repository provides persistence for coupon definitions.
type Repository interface {
	Create(ctx context.Context, d *Definition) error
	Get(ctx context.Context, id string) (*Definition, error)
	// UpdateStatus transitions the coupon's status with a guard on the current
	// value, so concurrent lifecycle calls cannot clobber each other. It
	// returns the stored definition after the update, or ErrCouponNotFound
	// when the guard did not match any row.
	UpdateStatus(ctx context.Context, id string, from []Status, to Status) (*Definition, error)
}
