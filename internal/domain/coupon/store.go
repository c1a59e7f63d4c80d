package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// UsableCounter reports how many redeemable codes a coupon currently has.
// Implemented by the code repository.
type UsableCounter interface {
	CountUsable(ctx context.Context, couponID string) (int, error)
}

// Invalidator drops cached snapshots after a coupon mutation.
type Invalidator interface {
	InvalidateCoupon(couponID string)
}

// Store is the coupon definition store: it owns creation and the lifecycle
// state machine, delegating persistence to the Repository.
type Store struct {
	repo  Repository
	codes UsableCounter
	inval Invalidator
	now   func() time.Time
}

// NewStore creates a Store. inval may be nil when no cache is wired.
func NewStore(repo Repository, codes UsableCounter, inval Invalidator) *Store {
	return &Store{repo: repo, codes: codes, inval: inval, now: time.Now}
}

// Create persists a new definition in DRAFT status. Parameters are validated
// for completeness immediately so broken definitions never reach activation.
func (s *Store) Create(ctx context.Context, d *Definition) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Params == nil || d.Params.DiscountType() != d.Type {
		return errors.Wrapf(ErrInvalidParams, "params do not match type %s", d.Type)
	}
	if err := d.Params.Validate(); err != nil {
		return err
	}
	d.Status = StatusDraft
	return s.repo.Create(ctx, d)
}

// Get returns the definition by id.
func (s *Store) Get(ctx context.Context, id string) (*Definition, error) {
	return s.repo.Get(ctx, id)
}

// Activate transitions DRAFT or PAUSED to ACTIVE. Activating an already
// active coupon is an idempotent no-op. Activation requires complete
// parameters, an open validity window, and at least one usable code.
func (s *Store) Activate(ctx context.Context, id string) (*Definition, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusActive {
		return d, nil
	}
	if err := d.CanActivate(s.now()); err != nil {
		return nil, err
	}

	n, err := s.codes.CountUsable(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "count usable codes")
	}
	if n == 0 {
		return nil, ErrNoUsableCodes
	}

	updated, err := s.repo.UpdateStatus(ctx, id, []Status{StatusDraft, StatusPaused}, StatusActive)
	if err != nil {
		return nil, err
	}
	s.invalidate(id)
	return updated, nil
}

// Pause transitions ACTIVE to PAUSED; pausing a paused coupon is a no-op.
func (s *Store) Pause(ctx context.Context, id string) (*Definition, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusPaused {
		return d, nil
	}
	if err := d.CanPause(); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, []Status{StatusActive}, StatusPaused)
	if err != nil {
		return nil, err
	}
	s.invalidate(id)
	return updated, nil
}

// Archive transitions any non-terminal state to ARCHIVED. The transition is
// irreversible and errors when repeated; it flips status only and never
// deletes data, so settled redemptions stay auditable.
func (s *Store) Archive(ctx context.Context, id string) (*Definition, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.CanArchive(); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id,
		[]Status{StatusDraft, StatusActive, StatusPaused}, StatusArchived)
	if err != nil {
		return nil, err
	}
	s.invalidate(id)
	return updated, nil
}

// CheckIssuable implements the code issuer's gate: archived coupons refuse
// new code issuance.
func (s *Store) CheckIssuable(ctx context.Context, couponID string) error {
	d, err := s.repo.Get(ctx, couponID)
	if err != nil {
		return err
	}
	if d.Status == StatusArchived {
		return ErrArchived
	}
	return nil
}

func (s *Store) invalidate(id string) {
	if s.inval != nil {
		s.inval.InvalidateCoupon(id)
	}
}
