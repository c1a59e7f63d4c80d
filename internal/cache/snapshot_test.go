package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/code"
	"github.com/xenking/promo-engine/internal/domain/coupon"
)

// countingCoupons serves one definition and counts hits.
type countingCoupons struct {
	mu   sync.Mutex
	def  *coupon.Definition
	gets int
}

func (r *countingCoupons) Create(context.Context, *coupon.Definition) error { return nil }

func (r *countingCoupons) Get(_ context.Context, id string) (*coupon.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.def == nil || r.def.ID != id {
		return nil, coupon.ErrCouponNotFound
	}
	return r.def, nil
}

func (r *countingCoupons) UpdateStatus(context.Context, string, []coupon.Status, coupon.Status) (*coupon.Definition, error) {
	return nil, coupon.ErrCouponNotFound
}

// countingCodes serves a code map and counts finds.
type countingCodes struct {
	mu    sync.Mutex
	codes map[string]*code.Code
	finds int
}

func (r *countingCodes) FindByCode(_ context.Context, codeStr string) (*code.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	c, ok := r.codes[codeStr]
	if !ok {
		return nil, code.ErrCodeNotFound
	}
	return c, nil
}

func (r *countingCodes) InsertBatch(context.Context, []code.Code) error { return nil }

func (r *countingCodes) AssignToCustomers(context.Context, string, []string) ([]code.Assignment, error) {
	return nil, nil
}

func (r *countingCodes) Revoke(context.Context, string, []string, string) error { return nil }

func (r *countingCodes) CountUsable(context.Context, string) (int, error) { return 0, nil }

func (r *countingCodes) ForEachCode(context.Context, func(string)) error { return nil }

func fixtures() (*countingCoupons, *countingCodes) {
	def := &coupon.Definition{
		ID:     "cpn-1",
		Type:   coupon.TypePercent,
		Params: coupon.PercentParams{PercentOff: decimal.NewFromInt(10)},
		Status: coupon.StatusActive,
	}
	coupons := &countingCoupons{def: def}
	codes := &countingCodes{codes: map[string]*code.Code{
		"SAVE10": {Code: "SAVE10", CouponID: "cpn-1", Status: code.StatusIssued, MaxUses: 1},
	}}
	return coupons, codes
}

func TestLookup_ReadThrough(t *testing.T) {
	coupons, codes := fixtures()
	snap := New(coupons, codes, 16, time.Minute)
	ctx := context.Background()

	def, cd, err := snap.Lookup(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "cpn-1", def.ID)
	assert.Equal(t, "SAVE10", cd.Code)

	// Second lookup is served from cache.
	_, _, err = snap.Lookup(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, codes.finds)
	assert.Equal(t, 1, coupons.gets)
}

func TestLookup_MissNotCached(t *testing.T) {
	coupons, codes := fixtures()
	snap := New(coupons, codes, 16, time.Minute)
	ctx := context.Background()

	_, _, err := snap.Lookup(ctx, "UNKNOWN")
	require.ErrorIs(t, err, code.ErrCodeNotFound)

	// A code issued after the miss is visible right away.
	codes.mu.Lock()
	codes.codes["UNKNOWN"] = &code.Code{Code: "UNKNOWN", CouponID: "cpn-1", Status: code.StatusIssued}
	codes.mu.Unlock()

	_, cd, err := snap.Lookup(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", cd.Code)
}

func TestInvalidateCode_ForcesReload(t *testing.T) {
	coupons, codes := fixtures()
	snap := New(coupons, codes, 16, time.Minute)
	ctx := context.Background()

	_, _, err := snap.Lookup(ctx, "SAVE10")
	require.NoError(t, err)

	snap.InvalidateCode("SAVE10")

	_, _, err = snap.Lookup(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 2, codes.finds)
}

func TestInvalidateCoupon_PurgesEverything(t *testing.T) {
	coupons, codes := fixtures()
	codes.codes["SAVE20"] = &code.Code{Code: "SAVE20", CouponID: "cpn-1", Status: code.StatusIssued}
	snap := New(coupons, codes, 16, time.Minute)
	ctx := context.Background()

	for _, c := range []string{"SAVE10", "SAVE20"} {
		_, _, err := snap.Lookup(ctx, c)
		require.NoError(t, err)
	}

	snap.InvalidateCoupon("cpn-1")

	for _, c := range []string{"SAVE10", "SAVE20"} {
		_, _, err := snap.Lookup(ctx, c)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, codes.finds)
}

func TestLookup_TTLExpiry(t *testing.T) {
	coupons, codes := fixtures()
	snap := New(coupons, codes, 16, 10*time.Millisecond)
	ctx := context.Background()

	_, _, err := snap.Lookup(ctx, "SAVE10")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, lerr := snap.Lookup(ctx, "SAVE10")
		codes.mu.Lock()
		defer codes.mu.Unlock()
		return lerr == nil && codes.finds >= 2
	}, time.Second, 5*time.Millisecond)
}
