// Package catalog defines the contract with the platform's catalog/inventory
// service, which owns product prices and category metadata.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrProductNotFound is returned when the catalog has no product with the
	// requested SKU.
	ErrProductNotFound = errors.New("product not found in catalog")
	// ErrUnavailable is returned when the catalog service could not respond.
	// Callers must treat this as a dependency failure, never as a zero price.
	ErrUnavailable = errors.New("catalog unavailable")
)

// Catalog resolves product pricing for SKUs that are not part of the caller's
// cart, such as the bonus item of a FREE_ITEM coupon.
type Catalog interface {
	Price(ctx context.Context, sku string) (decimal.Decimal, error)
}

// Unavailable is a Catalog that always reports ErrUnavailable. It is wired in
// when no catalog endpoint is configured, so FREE_ITEM coupons fail loudly
// instead of silently pricing the bonus item at zero.
type Unavailable struct{}

// Price always returns ErrUnavailable.
func (Unavailable) Price(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, ErrUnavailable
}
