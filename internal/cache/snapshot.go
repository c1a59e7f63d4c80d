// Package cache provides a bounded read-through snapshot of coupon and code
// state for the validation hot path.
//
// Entries are evicted by size (LRU) and by TTL, and are dropped explicitly on
// every coupon or code mutation, so validation never blocks on the database
// for warm codes while still observing mutations promptly. Cached snapshots
// are shared across goroutines and must be treated as read-only; the
// validation pipeline is pure, so this holds by construction. Usage counters
// in a snapshot may lag; apply enforces limits atomically at the store, so a
// stale counter can only cause a spurious pass of the read-only pre-check,
// never an over-redemption.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xenking/promo-engine/internal/domain/code"
	"github.com/xenking/promo-engine/internal/domain/coupon"
)

type entry struct {
	def *coupon.Definition
	cd  *code.Code
}

// Snapshot is a read-through cache keyed by code string, resolving a code to
// its record and owning definition.
type Snapshot struct {
	coupons coupon.Repository
	codes   code.Repository
	lru     *expirable.LRU[string, entry]
}

// New creates a Snapshot holding at most size entries for at most ttl each.
func New(coupons coupon.Repository, codes code.Repository, size int, ttl time.Duration) *Snapshot {
	return &Snapshot{
		coupons: coupons,
		codes:   codes,
		lru:     expirable.NewLRU[string, entry](size, nil, ttl),
	}
}

// Lookup resolves a code string, serving from cache when possible.
// code.ErrCodeNotFound passes through uncached so newly issued codes become
// visible immediately.
func (s *Snapshot) Lookup(ctx context.Context, codeStr string) (*coupon.Definition, *code.Code, error) {
	if e, ok := s.lru.Get(codeStr); ok {
		return e.def, e.cd, nil
	}

	cd, err := s.codes.FindByCode(ctx, codeStr)
	if err != nil {
		return nil, nil, err
	}
	def, err := s.coupons.Get(ctx, cd.CouponID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load definition %s for code", cd.CouponID)
	}

	s.lru.Add(codeStr, entry{def: def, cd: cd})
	return def, cd, nil
}

// InvalidateCode drops the snapshot for one code, called after its usage
// state changed.
func (s *Snapshot) InvalidateCode(codeStr string) {
	s.lru.Remove(codeStr)
}

// InvalidateCoupon drops every snapshot after a definition mutation. Coupon
// lifecycle changes are rare, so purging the whole cache is cheaper than
// maintaining a code-per-coupon index.
func (s *Snapshot) InvalidateCoupon(string) {
	s.lru.Purge()
}
