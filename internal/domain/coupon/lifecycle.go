package coupon

import (
	"time"

	"github.com/go-faster/errors"
)

// Lifecycle: DRAFT -> ACTIVE <-> PAUSED -> ARCHIVED. Archive is terminal and
// reachable from any non-terminal state. Activate and Pause are idempotent;
// archiving twice is an error because repeating a terminal transition would
// lose audit meaning.

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return errors.Errorf("coupon %s: cannot transition %s -> %s", e.ID, e.From, e.To).Error()
}

// CanActivate checks whether the definition may become ACTIVE at the given
// instant: parameters must be complete for the declared type and the validity
// window must still be open.
func (d *Definition) CanActivate(now time.Time) error {
	if d.Status == StatusArchived {
		return ErrArchived
	}
	if d.Params == nil || d.Params.DiscountType() != d.Type {
		return errors.Wrapf(ErrInvalidParams, "params do not match type %s", d.Type)
	}
	if err := d.Params.Validate(); err != nil {
		return err
	}
	if !d.ValidFrom.IsZero() && !d.ValidUntil.IsZero() && !d.ValidUntil.After(d.ValidFrom) {
		return errors.Wrap(ErrInvalidParams, "valid_until must be after valid_from")
	}
	if !d.ValidUntil.IsZero() && d.ValidUntil.Before(now) {
		return errors.Wrap(ErrInvalidParams, "validity window already closed")
	}
	return nil
}

// CanPause checks whether the definition may become PAUSED.
func (d *Definition) CanPause() error {
	switch d.Status {
	case StatusActive, StatusPaused:
		return nil
	case StatusArchived:
		return ErrArchived
	default:
		return &TransitionError{ID: d.ID, From: d.Status, To: StatusPaused}
	}
}

// CanArchive checks whether the definition may become ARCHIVED. Archiving an
// already archived coupon is an error.
func (d *Definition) CanArchive() error {
	if d.Status == StatusArchived {
		return ErrArchived
	}
	return nil
}
