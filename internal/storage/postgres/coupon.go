package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

const (
	createCouponSQL = `INSERT INTO coupons (
		id, name, discount_type, params, target,
		per_customer_limit, per_customer_daily_limit, max_discount,
		valid_from, valid_until, channels, stores,
		stacks_loyalty, stacks_wallet, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getCouponSQL = `SELECT id, name, discount_type, params, target,
		per_customer_limit, per_customer_daily_limit, max_discount,
		valid_from, valid_until, channels, stores,
		stacks_loyalty, stacks_wallet, status, created_at, updated_at
		FROM coupons WHERE id = $1`

	updateCouponStatusSQL = `UPDATE coupons SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING id, name, discount_type, params, target,
		per_customer_limit, per_customer_daily_limit, max_discount,
		valid_from, valid_until, channels, stores,
		stacks_loyalty, stacks_wallet, status, created_at, updated_at`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create persists a new definition. Params and target are stored as JSONB
// documents; allow-lists as text arrays.
func (r *CouponRepository) Create(ctx context.Context, d *coupon.Definition) error {
	params, err := json.Marshal(d.Params)
	if err != nil {
		return errors.Wrap(err, "marshal params")
	}
	target, err := json.Marshal(d.Target)
	if err != nil {
		return errors.Wrap(err, "marshal target")
	}

	_, err = r.pool.Exec(ctx, createCouponSQL,
		d.ID, d.Name, string(d.Type), params, target,
		d.PerCustomerLimit, d.PerCustomerDailyLimit, d.MaxDiscount,
		nullableTime(d.ValidFrom), nullableTime(d.ValidUntil),
		d.Channels.Values(), d.Stores.Values(),
		d.Stacking.WithLoyalty, d.Stacking.WithWallet, string(d.Status),
	)
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", d.ID, err)
	}
	return nil
}

// Get loads a definition by id. Returns coupon.ErrCouponNotFound when absent.
func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Definition, error) {
	rows, err := r.pool.Query(ctx, getCouponSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDefinition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", id, err)
	}
	return d, nil
}

// UpdateStatus transitions the status with a guard on the current value.
// A guard mismatch (row vanished or concurrent transition) surfaces as
// coupon.ErrCouponNotFound.
func (r *CouponRepository) UpdateStatus(ctx context.Context, id string, from []coupon.Status, to coupon.Status) (*coupon.Definition, error) {
	guard := make([]string, len(from))
	for i, s := range from {
		guard[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, updateCouponStatusSQL, id, string(to), guard)
	if err != nil {
		return nil, fmt.Errorf("updating coupon %q status: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDefinition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("updating coupon %q status: %w", id, err)
	}
	return d, nil
}

func scanDefinition(row pgx.CollectableRow) (*coupon.Definition, error) {
	var (
		d            coupon.Definition
		discountType string
		params       []byte
		target       []byte
		maxDiscount  decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
		channels     []string
		stores       []string
		status       string
	)
	err := row.Scan(
		&d.ID, &d.Name, &discountType, &params, &target,
		&d.PerCustomerLimit, &d.PerCustomerDailyLimit, &maxDiscount,
		&validFrom, &validUntil, &channels, &stores,
		&d.Stacking.WithLoyalty, &d.Stacking.WithWallet, &status,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = coupon.DiscountType(discountType)
	d.Status = coupon.Status(status)
	d.MaxDiscount = maxDiscount
	if validFrom != nil {
		d.ValidFrom = *validFrom
	}
	if validUntil != nil {
		d.ValidUntil = *validUntil
	}
	d.Channels = coupon.NewSet(channels...)
	d.Stores = coupon.NewSet(stores...)

	if err := json.Unmarshal(target, &d.Target); err != nil {
		return nil, errors.Wrap(err, "unmarshal target")
	}
	d.Params, err = coupon.DecodeParams(d.Type, params)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
