package code

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCodes is an in-memory Repository with the same all-or-nothing batch
// semantics as the SQL implementation.
type memCodes struct {
	mu    sync.Mutex
	codes map[string]*Code
}

func newMemCodes() *memCodes {
	return &memCodes{codes: make(map[string]*Code)}
}

func (r *memCodes) preload(codes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range codes {
		r.codes[c] = &Code{Code: c, Status: StatusIssued, MaxUses: 1}
	}
}

func (r *memCodes) FindByCode(_ context.Context, codeStr string) (*Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeStr]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCodes) InsertBatch(_ context.Context, batch []Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dups []string
	for n := range batch {
		if _, exists := r.codes[batch[n].Code]; exists {
			dups = append(dups, batch[n].Code)
		}
	}
	if len(dups) > 0 {
		return &DuplicateError{Codes: dups}
	}
	for n := range batch {
		cp := batch[n]
		r.codes[cp.Code] = &cp
	}
	return nil
}

func (r *memCodes) AssignToCustomers(_ context.Context, couponID string, customerIDs []string) ([]Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var free []*Code
	for _, c := range r.codes {
		if c.CouponID == couponID && c.Status == StatusIssued && c.CustomerID == "" {
			free = append(free, c)
		}
	}
	if len(free) < len(customerIDs) {
		return nil, ErrNotEnoughCodes
	}

	assignments := make([]Assignment, len(customerIDs))
	for n, id := range customerIDs {
		free[n].CustomerID = id
		assignments[n] = Assignment{Code: free[n].Code, CustomerID: id}
	}
	return assignments, nil
}

func (r *memCodes) Revoke(_ context.Context, couponID string, codes []string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, codeStr := range codes {
		c, ok := r.codes[codeStr]
		if !ok || c.CouponID != couponID {
			return ErrCodeNotFound
		}
		if c.Status == StatusRedeemed {
			return ErrCodeRedeemed
		}
	}
	for _, codeStr := range codes {
		r.codes[codeStr].Status = StatusRevoked
	}
	return nil
}

func (r *memCodes) CountUsable(_ context.Context, couponID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.codes {
		if c.CouponID == couponID && c.Status == StatusIssued {
			n++
		}
	}
	return n, nil
}

func (r *memCodes) ForEachCode(_ context.Context, fn func(string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.codes {
		fn(c)
	}
	return nil
}

// openGate admits every coupon.
type openGate struct{}

func (openGate) CheckIssuable(context.Context, string) error { return nil }

// closedGate refuses every coupon with the given error.
type closedGate struct{ err error }

func (g closedGate) CheckIssuable(context.Context, string) error { return g.err }

func TestGenerateBulk_CountAndUniqueness(t *testing.T) {
	repo := newMemCodes()
	issuer := NewIssuer(repo, openGate{}, nil)

	codes, err := issuer.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{Count: 500})
	require.NoError(t, err)
	require.Len(t, codes, 500)

	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		_, dup := seen[c.Code]
		require.False(t, dup, "duplicate code %s", c.Code)
		seen[c.Code] = struct{}{}

		assert.Equal(t, "cpn-1", c.CouponID)
		assert.Equal(t, StatusIssued, c.Status)
		assert.Equal(t, 1, c.MaxUses)
		assert.NotEmpty(t, c.BatchID)
		assert.Len(t, c.Code, defaultLength)
	}

	stored, err := repo.CountUsable(context.Background(), "cpn-1")
	require.NoError(t, err)
	assert.Equal(t, 500, stored)
}

func TestGenerateBulk_CodesUseSafeAlphabet(t *testing.T) {
	issuer := NewIssuer(newMemCodes(), openGate{}, nil)

	codes, err := issuer.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{Count: 50})
	require.NoError(t, err)

	for _, c := range codes {
		for _, ch := range c.Code {
			assert.Contains(t, alphabet, string(ch), "code %s", c.Code)
		}
	}
}

func TestGenerateBulk_PrefixAndLength(t *testing.T) {
	issuer := NewIssuer(newMemCodes(), openGate{}, nil)

	codes, err := issuer.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{
		Count:  20,
		Prefix: "SUMMER-",
		Length: 10,
	})
	require.NoError(t, err)

	for _, c := range codes {
		assert.True(t, strings.HasPrefix(c.Code, "SUMMER-"))
		assert.Len(t, c.Code, len("SUMMER-")+10)
	}
}

func TestGenerateBulk_SkipsWarmedCodes(t *testing.T) {
	repo := newMemCodes()

	// Seed the repository with codes generated by another process, then warm
	// a fresh issuer from it.
	first := NewIssuer(repo, openGate{}, nil)
	existing, err := first.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{Count: 200})
	require.NoError(t, err)

	second := NewIssuer(repo, openGate{}, nil)
	require.NoError(t, second.Warm(context.Background()))

	fresh, err := second.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{Count: 200})
	require.NoError(t, err)

	taken := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		taken[c.Code] = struct{}{}
	}
	for _, c := range fresh {
		_, clash := taken[c.Code]
		assert.False(t, clash, "code %s collides with an existing one", c.Code)
	}
}

func TestGenerateBulk_RetriesDatabaseDuplicates(t *testing.T) {
	repo := newMemCodes()

	// Preload codes the unwarmed issuer cannot know about. Any candidate
	// colliding with them is rejected by the repository and redrawn.
	issuer := NewIssuer(repo, openGate{}, nil)
	existing, err := issuer.GenerateBulk(context.Background(), "cpn-0", GenerateSpec{Count: 100})
	require.NoError(t, err)

	cold := NewIssuer(repo, openGate{}, nil)
	codes, err := cold.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{Count: 100})
	require.NoError(t, err)
	require.Len(t, codes, 100)

	taken := make(map[string]struct{})
	for _, c := range existing {
		taken[c.Code] = struct{}{}
	}
	for _, c := range codes {
		_, clash := taken[c.Code]
		assert.False(t, clash)
	}
}

func TestGenerateBulk_GateRefusal(t *testing.T) {
	gateErr := errors.New("coupon is archived")
	issuer := NewIssuer(newMemCodes(), closedGate{err: gateErr}, nil)

	_, err := issuer.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{Count: 10})
	require.ErrorIs(t, err, gateErr)
}

func TestGenerateBulk_RejectsNonPositiveCount(t *testing.T) {
	issuer := NewIssuer(newMemCodes(), openGate{}, nil)

	_, err := issuer.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{})
	require.Error(t, err)
}

func TestGenerateBulk_CapacityExceeded(t *testing.T) {
	issuer := NewIssuer(newMemCodes(), openGate{}, nil)

	// A two-character code space cannot hold a million codes.
	_, err := issuer.GenerateBulk(context.Background(), "cpn-1", GenerateSpec{
		Count:  1_000_000,
		Length: 2,
	})
	require.ErrorIs(t, err, ErrGenerationExhausted)
}

func TestAssignToCustomers(t *testing.T) {
	repo := newMemCodes()
	issuer := NewIssuer(repo, openGate{}, nil)
	ctx := context.Background()

	_, err := issuer.GenerateBulk(ctx, "cpn-1", GenerateSpec{Count: 3})
	require.NoError(t, err)

	assignments, err := issuer.AssignToCustomers(ctx, "cpn-1", []string{"cust-1", "cust-2"})
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	c, err := repo.FindByCode(ctx, assignments[0].Code)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", c.CustomerID)
}

func TestAssignToCustomers_AllOrNothing(t *testing.T) {
	repo := newMemCodes()
	issuer := NewIssuer(repo, openGate{}, nil)
	ctx := context.Background()

	_, err := issuer.GenerateBulk(ctx, "cpn-1", GenerateSpec{Count: 1})
	require.NoError(t, err)

	_, err = issuer.AssignToCustomers(ctx, "cpn-1", []string{"cust-1", "cust-2"})
	require.ErrorIs(t, err, ErrNotEnoughCodes)

	// The single code is still unassigned.
	var all []string
	require.NoError(t, repo.ForEachCode(ctx, func(codeStr string) {
		all = append(all, codeStr)
	}))

	n := 0
	for _, codeStr := range all {
		c, ferr := repo.FindByCode(ctx, codeStr)
		require.NoError(t, ferr)
		if c.CustomerID == "" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestRevoke(t *testing.T) {
	repo := newMemCodes()
	issuer := NewIssuer(repo, openGate{}, nil)
	ctx := context.Background()

	codes, err := issuer.GenerateBulk(ctx, "cpn-1", GenerateSpec{Count: 2})
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, "cpn-1", []string{codes[0].Code}, "fraud ring"))

	c, err := repo.FindByCode(ctx, codes[0].Code)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, c.Status)

	usable, err := repo.CountUsable(ctx, "cpn-1")
	require.NoError(t, err)
	assert.Equal(t, 1, usable)
}

func TestRevoke_InvalidatesCache(t *testing.T) {
	repo := newMemCodes()
	inval := &recordingInvalidator{}
	issuer := NewIssuer(repo, openGate{}, inval)
	ctx := context.Background()

	codes, err := issuer.GenerateBulk(ctx, "cpn-1", GenerateSpec{Count: 1})
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, "cpn-1", []string{codes[0].Code}, "leak"))
	assert.Equal(t, []string{codes[0].Code}, inval.codes)
}

func TestRevoke_RedeemedCodeRefused(t *testing.T) {
	repo := newMemCodes()
	issuer := NewIssuer(repo, openGate{}, nil)
	ctx := context.Background()

	codes, err := issuer.GenerateBulk(ctx, "cpn-1", GenerateSpec{Count: 1})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.codes[codes[0].Code].Status = StatusRedeemed
	repo.mu.Unlock()

	err = issuer.Revoke(ctx, "cpn-1", []string{codes[0].Code}, "fraud")
	require.ErrorIs(t, err, ErrCodeRedeemed)
}

// recordingInvalidator collects invalidated code strings.
type recordingInvalidator struct {
	mu    sync.Mutex
	codes []string
}

func (r *recordingInvalidator) InvalidateCode(c string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, c)
}

func TestSplitCount(t *testing.T) {
	tests := []struct {
		count, shards int
		want          []int
	}{
		{10, 4, []int{3, 3, 2, 2}},
		{8, 4, []int{2, 2, 2, 2}},
		{1, 1, []int{1}},
		{5, 2, []int{3, 2}},
	}

	for _, tt := range tests {
		got := splitCount(tt.count, tt.shards)
		assert.Equal(t, tt.want, got, "count=%d shards=%d", tt.count, tt.shards)
	}
}

func TestShardChars_PartitionAlphabet(t *testing.T) {
	var combined string
	for shard := range 4 {
		combined += shardChars(4, shard)
	}
	assert.Equal(t, alphabet, combined)
}

// Two requests generating against one shared Issuer: shard workers of one
// call test the bloom filter while the other call's insert phase writes to
// it. Run with -race; all batches must still come out unique.
func TestGenerateBulk_ConcurrentRequests(t *testing.T) {
	repo := newMemCodes()
	issuer := NewIssuer(repo, openGate{}, nil)
	ctx := context.Background()

	const (
		workers = 2
		rounds  = 20
	)

	errc := make(chan error, workers*rounds)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				_, err := issuer.GenerateBulk(ctx, "cpn-1", GenerateSpec{Count: 200})
				errc <- err
			}
		}()
	}
	wg.Wait()
	close(errc)

	for err := range errc {
		require.NoError(t, err)
	}

	seen := make(map[string]struct{})
	require.NoError(t, repo.ForEachCode(ctx, func(codeStr string) {
		_, dup := seen[codeStr]
		assert.False(t, dup, "duplicate code %s", codeStr)
		seen[codeStr] = struct{}{}
	}))
	assert.Len(t, seen, workers*rounds*200)
}

func TestRandomChar_UniformOverShardSlice(t *testing.T) {
	// A 3-shard split gives shard 0 ten characters, a slice length that does
	// not divide 256.
	chars := shardChars(3, 0)
	require.Len(t, chars, 10)

	counts := make(map[byte]int, len(chars))
	for range 2000 {
		c, err := randomChar(chars)
		require.NoError(t, err)
		require.True(t, strings.ContainsRune(chars, rune(c)), "character %q outside shard slice", c)
		counts[c]++
	}
	for n := range len(chars) {
		assert.Positive(t, counts[chars[n]], "character %q never drawn", chars[n])
	}
}
