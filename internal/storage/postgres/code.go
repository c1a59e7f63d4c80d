package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/code"
)

const (
	findCodeSQL = `SELECT code, coupon_id, status, usage_count, max_uses,
		COALESCE(customer_id, ''), batch_id, created_at
		FROM coupon_codes WHERE code = $1`

	// Batch insert through unnest: ON CONFLICT DO NOTHING plus RETURNING lets
	// the caller compute exactly which candidates collided.
	insertBatchSQL = `INSERT INTO coupon_codes
		(code, coupon_id, status, usage_count, max_uses, customer_id, batch_id)
		SELECT c, $2, $3, 0, $4, NULLIF($5, ''), $6 FROM unnest($1::text[]) AS c
		ON CONFLICT (code) DO NOTHING
		RETURNING code`

	lockUnassignedSQL = `SELECT code FROM coupon_codes
		WHERE coupon_id = $1 AND status = 'ISSUED' AND customer_id IS NULL
		ORDER BY created_at, code
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	assignCodeSQL = `UPDATE coupon_codes SET customer_id = $2, updated_at = NOW()
		WHERE code = $1`

	lockForRevokeSQL = `SELECT code, status FROM coupon_codes
		WHERE coupon_id = $1 AND code = ANY($2)
		FOR UPDATE`

	revokeSQL = `UPDATE coupon_codes
		SET status = 'REVOKED', revoke_reason = $3, updated_at = NOW()
		WHERE coupon_id = $1 AND code = ANY($2) AND status <> 'REVOKED'`

	countUsableSQL = `SELECT COUNT(*) FROM coupon_codes
		WHERE coupon_id = $1 AND status = 'ISSUED'
		AND (max_uses = 0 OR usage_count < max_uses)`

	allCodesSQL = `SELECT code FROM coupon_codes`
)

var _ code.Repository = (*CodeRepository)(nil)

// CodeRepository implements code.Repository backed by PostgreSQL.
type CodeRepository struct {
	pool *pgxpool.Pool
}

// NewCodeRepository returns a CodeRepository that uses the given pool.
func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// FindByCode loads one code. Returns code.ErrCodeNotFound when absent.
func (r *CodeRepository) FindByCode(ctx context.Context, codeStr string) (*code.Code, error) {
	rows, err := r.pool.Query(ctx, findCodeSQL, codeStr)
	if err != nil {
		return nil, fmt.Errorf("finding code: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, code.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding code: %w", err)
	}
	return c, nil
}

// InsertBatch persists the batch inside one transaction. When any code
// already exists the transaction is rolled back and a *code.DuplicateError
// names the collisions, so nothing is ever partially issued.
//
// All codes of a batch share coupon, max_uses, customer, and batch id; the
// issuer guarantees this.
func (r *CodeRepository) InsertBatch(ctx context.Context, batch []code.Code) error {
	if len(batch) == 0 {
		return nil
	}
	first := batch[0]
	codes := make([]string, len(batch))
	for i := range batch {
		codes[i] = batch[i].Code
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rows, err := tx.Query(ctx, insertBatchSQL,
		codes, first.CouponID, string(first.Status), first.MaxUses, first.CustomerID, first.BatchID)
	if err != nil {
		return fmt.Errorf("insert code batch: %w", err)
	}
	inserted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("insert code batch: %w", err)
	}

	if len(inserted) != len(codes) {
		ok := make(map[string]struct{}, len(inserted))
		for _, c := range inserted {
			ok[c] = struct{}{}
		}
		var dups []string
		for _, c := range codes {
			if _, ins := ok[c]; !ins {
				dups = append(dups, c)
			}
		}
		return &code.DuplicateError{Codes: dups}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert batch: %w", err)
	}
	return nil
}

// AssignToCustomers binds one unissued code per customer inside one
// transaction. Rows are locked with SKIP LOCKED so concurrent assignments
// against the same coupon pick disjoint codes; the requested count must be
// fully satisfiable or nothing is assigned.
func (r *CodeRepository) AssignToCustomers(ctx context.Context, couponID string, customerIDs []string) ([]code.Assignment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin assign: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, lockUnassignedSQL, couponID, len(customerIDs))
	if err != nil {
		return nil, fmt.Errorf("lock unassigned codes: %w", err)
	}
	free, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("lock unassigned codes: %w", err)
	}
	if len(free) < len(customerIDs) {
		return nil, errors.Wrapf(code.ErrNotEnoughCodes,
			"%d unassigned, %d requested", len(free), len(customerIDs))
	}

	assignments := make([]code.Assignment, len(customerIDs))
	for i, customerID := range customerIDs {
		if _, err := tx.Exec(ctx, assignCodeSQL, free[i], customerID); err != nil {
			return nil, fmt.Errorf("assign code to %q: %w", customerID, err)
		}
		assignments[i] = code.Assignment{Code: free[i], CustomerID: customerID}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit assign: %w", err)
	}
	return assignments, nil
}

// Revoke moves the coupon's ISSUED codes to REVOKED in one transaction.
// Unknown codes fail with code.ErrCodeNotFound; REDEEMED codes fail with
// code.ErrCodeRedeemed, since redeemed uses are reversed via refund.
func (r *CodeRepository) Revoke(ctx context.Context, couponID string, codes []string, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revoke: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, lockForRevokeSQL, couponID, codes)
	if err != nil {
		return fmt.Errorf("lock codes for revoke: %w", err)
	}
	type row struct {
		Code   string
		Status string
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return fmt.Errorf("lock codes for revoke: %w", err)
	}

	if len(found) != len(codes) {
		return errors.Wrapf(code.ErrCodeNotFound,
			"%d of %d codes belong to coupon %s", len(found), len(codes), couponID)
	}
	for _, f := range found {
		if code.Status(f.Status) == code.StatusRedeemed {
			return errors.Wrapf(code.ErrCodeRedeemed, "code %s", f.Code)
		}
	}

	if _, err := tx.Exec(ctx, revokeSQL, couponID, codes, reason); err != nil {
		return fmt.Errorf("revoke codes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit revoke: %w", err)
	}
	return nil
}

// CountUsable returns how many of the coupon's codes are still redeemable.
func (r *CodeRepository) CountUsable(ctx context.Context, couponID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUsableSQL, couponID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usable codes: %w", err)
	}
	return n, nil
}

// ForEachCode streams every stored code string to fn.
func (r *CodeRepository) ForEachCode(ctx context.Context, fn func(codeStr string)) error {
	rows, err := r.pool.Query(ctx, allCodesSQL)
	if err != nil {
		return fmt.Errorf("stream codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return fmt.Errorf("stream codes: %w", err)
		}
		fn(c)
	}
	return rows.Err()
}

func scanCode(row pgx.CollectableRow) (*code.Code, error) {
	var (
		c      code.Code
		status string
	)
	err := row.Scan(&c.Code, &c.CouponID, &status, &c.UsageCount, &c.MaxUses,
		&c.CustomerID, &c.BatchID, &c.CreatedAt)
	c.Status = code.Status(status)
	return &c, err
}
