// Package code owns individually redeemable coupon codes: the code entity,
// its status transitions, and the bulk issuance service.
package code

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Status enumerates the lifecycle states of a single code.
type Status string

const (
	// StatusIssued means the code may still be redeemed.
	StatusIssued Status = "ISSUED"
	// StatusRedeemed means the code has exhausted its uses.
	StatusRedeemed Status = "REDEEMED"
	// StatusRevoked means the code was withdrawn and can never be redeemed again.
	StatusRevoked Status = "REVOKED"
	// StatusExpired means the owning coupon's validity window has closed.
	StatusExpired Status = "EXPIRED"
)

var (
	// ErrCodeNotFound is returned when a code string is unknown.
	ErrCodeNotFound = errors.New("coupon code not found")
	// ErrDuplicateCode is returned by batch inserts when one or more candidate
	// codes already exist. The batch is rolled back as a whole.
	ErrDuplicateCode = errors.New("duplicate coupon code")
	// ErrNotEnoughCodes is returned when an assignment requests more unissued
	// codes than the coupon has left.
	ErrNotEnoughCodes = errors.New("not enough unassigned codes")
	// ErrCodeRedeemed is returned when revoking a code that has already been
	// redeemed; redeemed uses are reversed via refund, not revocation.
	ErrCodeRedeemed = errors.New("code already redeemed")
	// ErrGenerationExhausted is returned when bulk generation could not reach
	// the requested number of unique codes within its retry budget.
	ErrGenerationExhausted = errors.New("code generation retry budget exhausted")
)

// Code is one redeemable instance issued against a coupon definition.
type Code struct {
	Code       string
	CouponID   string
	Status     Status
	UsageCount int
	// MaxUses caps redemptions of this individual code. Zero means unlimited.
	MaxUses int
	// CustomerID restricts the code to a single customer when non-empty.
	CustomerID string
	BatchID    string
	CreatedAt  time.Time
}

// Exhausted reports whether the code has no uses left.
func (c *Code) Exhausted() bool {
	return c.MaxUses > 0 && c.UsageCount >= c.MaxUses
}

// Assignment records which code was bound to which customer.
type Assignment struct {
	Code       string
	CustomerID string
}

// Repository provides persistence for coupon codes. InsertBatch and
// AssignToCustomers are transactional: they either apply completely or not
// at all.
type Repository interface {
	FindByCode(ctx context.Context, codeStr string) (*Code, error)
	// InsertBatch persists all codes or none. When any code collides with an
	// existing one it returns a *DuplicateError wrapping ErrDuplicateCode.
	InsertBatch(ctx context.Context, codes []Code) error
	// AssignToCustomers binds one unissued code per customer id, in order.
	// Returns ErrNotEnoughCodes without assigning anything when the coupon has
	// fewer unissued codes than customer ids.
	AssignToCustomers(ctx context.Context, couponID string, customerIDs []string) ([]Assignment, error)
	// Revoke moves the given ISSUED codes of the coupon to REVOKED. It returns
	// ErrCodeRedeemed if any of them is REDEEMED, and ErrCodeNotFound if any
	// does not belong to the coupon.
	Revoke(ctx context.Context, couponID string, codes []string, reason string) error
	// CountUsable returns how many codes of the coupon are still redeemable.
	CountUsable(ctx context.Context, couponID string) (int, error)
	// ForEachCode streams every stored code string, in no particular order.
	ForEachCode(ctx context.Context, fn func(codeStr string)) error
}

// DuplicateError reports which candidate codes already existed during a batch
// insert.
type DuplicateError struct {
	Codes []string
}

func (e *DuplicateError) Error() string {
	return errors.Errorf("%d duplicate codes in batch", len(e.Codes)).Error()
}

// Unwrap makes errors.Is(err, ErrDuplicateCode) work.
func (e *DuplicateError) Unwrap() error { return ErrDuplicateCode }
