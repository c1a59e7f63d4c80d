package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/redemption"
)

const (
	// consumeUseSQL is the single conditional increment at the heart of apply:
	// "check limit, then increment" as one statement, never a read followed by
	// a write. The row lock it takes also serializes the per-customer limit
	// checks below for racing applies of the same code.
	consumeUseSQL = `UPDATE coupon_codes
		SET usage_count = usage_count + 1,
		    status = CASE WHEN max_uses > 0 AND usage_count + 1 >= max_uses
		                  THEN 'REDEEMED' ELSE status END,
		    updated_at = NOW()
		WHERE code = $1 AND status = 'ISSUED'
		  AND (max_uses = 0 OR usage_count < max_uses)
		RETURNING usage_count`

	codeStatusSQL = `SELECT status FROM coupon_codes WHERE code = $1`

	// customerLockSQL serializes applies for one (coupon, customer) pair until
	// the transaction ends. The code row lock alone is not enough: two applies
	// with different codes of the same coupon lock different rows, and under
	// read committed both would count the customer's redemptions before either
	// insert commits.
	customerLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`

	customerCountsSQL = `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE redeemed_at >= $3)
		FROM redemptions
		WHERE coupon_id = $1 AND customer_id = $2 AND status = 'ACTIVE'`

	insertRedemptionSQL = `INSERT INTO redemptions (
		id, coupon_id, code, customer_id, store_id, channel, order_id,
		pre_discount, discount, items, status,
		ip, device, payment_method, redeemed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	redemptionColumns = `id, coupon_id, code, customer_id, store_id, channel, order_id,
		pre_discount, discount, items, status, ip, device, payment_method,
		cancel_reason, refund_id, refund_amount, redeemed_at, updated_at`

	findByOrderSQL = `SELECT ` + redemptionColumns + ` FROM redemptions WHERE order_id = $1`

	transitionSQL = `UPDATE redemptions
		SET status = $2, cancel_reason = $3, refund_id = $4, refund_amount = $5,
		    updated_at = NOW()
		WHERE order_id = $1 AND status = 'ACTIVE'
		RETURNING ` + redemptionColumns

	releaseUseSQL = `UPDATE coupon_codes
		SET usage_count = GREATEST(usage_count - 1, 0),
		    status = CASE WHEN status = 'REDEEMED' THEN 'ISSUED' ELSE status END,
		    updated_at = NOW()
		WHERE code = $1`

	aggregateSQL = `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE status = 'ACTIVE'),
		COUNT(*) FILTER (WHERE status = 'CANCELLED'),
		COUNT(*) FILTER (WHERE status = 'REFUNDED'),
		COALESCE(SUM(discount), 0),
		COALESCE(SUM(discount) FILTER (WHERE status = 'ACTIVE'), 0),
		COALESCE(SUM(pre_discount), 0)
		FROM redemptions
		WHERE coupon_id = $1 AND redeemed_at >= $2 AND redeemed_at < $3`
)

var (
	_ redemption.Ledger       = (*RedemptionRepository)(nil)
	_ redemption.UsageCounter = (*RedemptionRepository)(nil)
)

// RedemptionRepository implements the redemption ledger backed by PostgreSQL.
type RedemptionRepository struct {
	pool *pgxpool.Pool
}

// NewRedemptionRepository returns a RedemptionRepository using the given pool.
func NewRedemptionRepository(pool *pgxpool.Pool) *RedemptionRepository {
	return &RedemptionRepository{pool: pool}
}

// Record consumes one use of the code and inserts the redemption in a single
// transaction. The conditional UPDATE both enforces the code's own limit and
// locks its row, serializing racing applies of the same code; an advisory
// lock on the (coupon, customer) pair serializes applies of different codes
// before the per-customer counts are read. Any limit failure rolls the whole
// unit back and surfaces as a *redemption.ConflictError.
func (r *RedemptionRepository) Record(ctx context.Context, red *redemption.Redemption, limits redemption.Limits) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var usage int
	err = tx.QueryRow(ctx, consumeUseSQL, red.Code).Scan(&usage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.consumeConflict(ctx, red.Code)
		}
		return fmt.Errorf("consume code use: %w", err)
	}

	if limits.PerCustomerTotal > 0 || limits.PerCustomerDaily > 0 {
		if _, err := tx.Exec(ctx, customerLockSQL, red.CouponID, red.CustomerID); err != nil {
			return fmt.Errorf("lock customer scope: %w", err)
		}

		dayStart := red.RedeemedAt.UTC().Truncate(24 * time.Hour)
		var total, daily int
		err := tx.QueryRow(ctx, customerCountsSQL, red.CouponID, red.CustomerID, dayStart).
			Scan(&total, &daily)
		if err != nil {
			return fmt.Errorf("count customer redemptions: %w", err)
		}
		if limits.PerCustomerTotal > 0 && total >= limits.PerCustomerTotal {
			return &redemption.ConflictError{Reason: coupon.ReasonCustomerLimitExceeded}
		}
		if limits.PerCustomerDaily > 0 && daily >= limits.PerCustomerDaily {
			return &redemption.ConflictError{Reason: coupon.ReasonDailyLimitExceeded}
		}
	}

	items, err := json.Marshal(red.Items)
	if err != nil {
		return errors.Wrap(err, "marshal redemption items")
	}
	_, err = tx.Exec(ctx, insertRedemptionSQL,
		red.ID, red.CouponID, red.Code, red.CustomerID, red.StoreID, red.Channel,
		red.OrderID, red.PreDiscount, red.Discount, items, string(red.Status),
		red.IP, red.Device, red.PaymentMethod, red.RedeemedAt, red.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert redemption for order %q: %w", red.OrderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// consumeConflict maps a failed conditional increment to the precise reason:
// the code either left ISSUED status or ran out of uses.
func (r *RedemptionRepository) consumeConflict(ctx context.Context, codeStr string) error {
	var status string
	err := r.pool.QueryRow(ctx, codeStatusSQL, codeStr).Scan(&status)
	if err != nil || status == "ISSUED" {
		return &redemption.ConflictError{Reason: coupon.ReasonCodeExhausted}
	}
	return &redemption.ConflictError{Reason: coupon.ReasonCodeNotIssued}
}

// FindByOrder loads the redemption for an order.
func (r *RedemptionRepository) FindByOrder(ctx context.Context, orderID string) (*redemption.Redemption, error) {
	rows, err := r.pool.Query(ctx, findByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding redemption for order %q: %w", orderID, err)
	}

	red, err := pgx.CollectExactlyOneRow(rows, scanRedemption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, redemption.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("finding redemption for order %q: %w", orderID, err)
	}
	return red, nil
}

// Transition moves an ACTIVE redemption to a terminal status and releases one
// code use in the same transaction. An already terminal redemption is
// returned unchanged so retries stay idempotent.
func (r *RedemptionRepository) Transition(ctx context.Context, orderID string, to redemption.Status, patch redemption.Patch) (*redemption.Redemption, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, transitionSQL,
		orderID, string(to), patch.Reason, patch.RefundID, patch.RefundAmount)
	if err != nil {
		return nil, fmt.Errorf("transition redemption for order %q: %w", orderID, err)
	}
	red, err := pgx.CollectExactlyOneRow(rows, scanRedemption)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Not ACTIVE: either unknown order or already terminal.
			return r.FindByOrder(ctx, orderID)
		}
		return nil, fmt.Errorf("transition redemption for order %q: %w", orderID, err)
	}

	if _, err := tx.Exec(ctx, releaseUseSQL, red.Code); err != nil {
		return nil, fmt.Errorf("release code use: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return red, nil
}

// Aggregate rolls up redemption counts and discount totals for a coupon over
// [from, to).
func (r *RedemptionRepository) Aggregate(ctx context.Context, couponID string, from, to time.Time) (*redemption.Analytics, error) {
	a := &redemption.Analytics{CouponID: couponID, From: from, To: to}
	err := r.pool.QueryRow(ctx, aggregateSQL, couponID, from, to).Scan(
		&a.Total, &a.Active, &a.Cancelled, &a.Refunded,
		&a.TotalDiscount, &a.ActiveDiscount, &a.TotalPreDiscount,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate redemptions for coupon %q: %w", couponID, err)
	}
	return a, nil
}

// CustomerRedemptions reports a customer's active redemption tallies; used by
// the read-only validate path.
func (r *RedemptionRepository) CustomerRedemptions(ctx context.Context, couponID, customerID string, dayStart time.Time) (int, int, error) {
	var total, daily int
	err := r.pool.QueryRow(ctx, customerCountsSQL, couponID, customerID, dayStart).
		Scan(&total, &daily)
	if err != nil {
		return 0, 0, fmt.Errorf("count customer redemptions: %w", err)
	}
	return total, daily, nil
}

func scanRedemption(row pgx.CollectableRow) (*redemption.Redemption, error) {
	var (
		red    redemption.Redemption
		items  []byte
		status string
	)
	err := row.Scan(
		&red.ID, &red.CouponID, &red.Code, &red.CustomerID, &red.StoreID,
		&red.Channel, &red.OrderID, &red.PreDiscount, &red.Discount, &items,
		&status, &red.IP, &red.Device, &red.PaymentMethod,
		&red.CancelReason, &red.RefundID, &red.RefundAmount,
		&red.RedeemedAt, &red.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	red.Status = redemption.Status(status)
	if err := json.Unmarshal(items, &red.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal redemption items")
	}
	return &red, nil
}
