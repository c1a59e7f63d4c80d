package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository with the same guarded-update semantics
// as the SQL implementation.
type memRepo struct {
	mu   sync.Mutex
	defs map[string]*Definition
}

func newMemRepo() *memRepo {
	return &memRepo{defs: make(map[string]*Definition)}
}

func (r *memRepo) Create(_ context.Context, d *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.defs[d.ID] = &cp
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id string, from []Status, to Status) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	for _, s := range from {
		if d.Status == s {
			d.Status = to
			cp := *d
			return &cp, nil
		}
	}
	return nil, &TransitionError{ID: id, From: d.Status, To: to}
}

// fixedCount is a UsableCounter returning a constant.
type fixedCount int

func (c fixedCount) CountUsable(context.Context, string) (int, error) {
	return int(c), nil
}

// recordingInvalidator collects invalidated coupon ids.
type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) InvalidateCoupon(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func percentDef() *Definition {
	return &Definition{
		Name:   "Ten percent",
		Type:   TypePercent,
		Params: PercentParams{PercentOff: dec("10")},
	}
}

func TestStore_CreateStartsDraft(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(1), nil)

	d := percentDef()
	require.NoError(t, store.Create(context.Background(), d))

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, StatusDraft, d.Status)
}

func TestStore_CreateRejectsMismatchedParams(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(1), nil)

	d := percentDef()
	d.Type = TypeBogo

	err := store.Create(context.Background(), d)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestStore_CreateRejectsInvalidParams(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(1), nil)

	d := percentDef()
	d.Params = PercentParams{PercentOff: dec("150")}

	err := store.Create(context.Background(), d)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestStore_ActivateLifecycle(t *testing.T) {
	inval := &recordingInvalidator{}
	store := NewStore(newMemRepo(), fixedCount(5), inval)
	ctx := context.Background()

	d := percentDef()
	require.NoError(t, store.Create(ctx, d))

	activated, err := store.Activate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, activated.Status)
	assert.Equal(t, []string{d.ID}, inval.ids)

	// Idempotent re-activation, no extra invalidation.
	again, err := store.Activate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
	assert.Len(t, inval.ids, 1)
}

func TestStore_ActivateRequiresUsableCodes(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(0), nil)
	ctx := context.Background()

	d := percentDef()
	require.NoError(t, store.Create(ctx, d))

	_, err := store.Activate(ctx, d.ID)
	require.ErrorIs(t, err, ErrNoUsableCodes)
}

func TestStore_ActivateRejectsClosedWindow(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(5), nil)
	store.now = func() time.Time { return testNow }
	ctx := context.Background()

	d := percentDef()
	d.ValidFrom = testNow.Add(-48 * time.Hour)
	d.ValidUntil = testNow.Add(-24 * time.Hour)
	require.NoError(t, store.Create(ctx, d))

	_, err := store.Activate(ctx, d.ID)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestStore_PauseAndResume(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(5), nil)
	ctx := context.Background()

	d := percentDef()
	require.NoError(t, store.Create(ctx, d))
	_, err := store.Activate(ctx, d.ID)
	require.NoError(t, err)

	paused, err := store.Pause(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	// Pause is idempotent.
	_, err = store.Pause(ctx, d.ID)
	require.NoError(t, err)

	resumed, err := store.Activate(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
}

func TestStore_PauseRejectsDraft(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(5), nil)
	ctx := context.Background()

	d := percentDef()
	require.NoError(t, store.Create(ctx, d))

	_, err := store.Pause(ctx, d.ID)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusDraft, te.From)
}

func TestStore_ArchiveIsTerminal(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(5), nil)
	ctx := context.Background()

	d := percentDef()
	require.NoError(t, store.Create(ctx, d))

	archived, err := store.Archive(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	_, err = store.Archive(ctx, d.ID)
	require.ErrorIs(t, err, ErrArchived)

	_, err = store.Activate(ctx, d.ID)
	require.ErrorIs(t, err, ErrArchived)

	_, err = store.Pause(ctx, d.ID)
	require.ErrorIs(t, err, ErrArchived)
}

func TestStore_CheckIssuable(t *testing.T) {
	store := NewStore(newMemRepo(), fixedCount(5), nil)
	ctx := context.Background()

	d := percentDef()
	require.NoError(t, store.Create(ctx, d))
	require.NoError(t, store.CheckIssuable(ctx, d.ID))

	_, err := store.Archive(ctx, d.ID)
	require.NoError(t, err)
	require.ErrorIs(t, store.CheckIssuable(ctx, d.ID), ErrArchived)

	require.ErrorIs(t, store.CheckIssuable(ctx, "missing"), ErrCouponNotFound)
}
