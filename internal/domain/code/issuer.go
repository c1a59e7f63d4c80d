package code

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// alphabet is the character set for generated codes. It has exactly 32
// characters (a power of two, so random bytes map uniformly) and omits the
// ambiguous 0/O/1/I pairs.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	defaultLength = 8
	defaultShards = 4
	maxShards     = len(alphabet)

	// attemptsPerCode bounds how many candidates a worker may draw per
	// requested code before the batch is declared exhausted.
	attemptsPerCode = 16
	// insertRetries bounds how many times a batch may be re-submitted after
	// the authoritative database uniqueness check rejects duplicates.
	insertRetries = 3

	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
)

// GenerateSpec describes one bulk generation request.
type GenerateSpec struct {
	Count int
	// Prefix is prepended verbatim to every generated code.
	Prefix string
	// Length is the number of random characters after the prefix. The first
	// of them is the shard character. Defaults to 8.
	Length int
	// Shards is the number of parallel generation workers. Each worker owns a
	// disjoint slice of the code space, keyed by the shard character, so
	// workers cannot collide with each other. Defaults to 4.
	Shards int
	// BatchID groups the generated codes; autogenerated when empty.
	BatchID string
	// MaxUses per generated code. Defaults to 1.
	MaxUses int
	// CustomerID pre-assigns every generated code to a single customer.
	CustomerID string
}

func (s *GenerateSpec) applyDefaults() {
	if s.Length <= 0 {
		s.Length = defaultLength
	}
	if s.Shards <= 0 {
		s.Shards = defaultShards
	}
	if s.Shards > maxShards {
		s.Shards = maxShards
	}
	if s.Shards > s.Count {
		s.Shards = s.Count
	}
	if s.BatchID == "" {
		s.BatchID = uuid.New().String()
	}
	if s.MaxUses <= 0 {
		s.MaxUses = 1
	}
}

// IssueGate answers whether a coupon may currently have codes issued against
// it. Implemented by the coupon definition store; archived coupons refuse
// new issuance.
type IssueGate interface {
	CheckIssuable(ctx context.Context, couponID string) error
}

// Invalidator drops a cached code snapshot after its status changed.
type Invalidator interface {
	InvalidateCode(codeStr string)
}

// Issuer generates, assigns, and revokes coupon codes.
//
// Uniqueness strategy: a process-lifetime bloom filter pre-screens candidates
// against every code this process has seen, and the database unique constraint
// remains authoritative at insert time. A bloom false positive only costs one
// retry; a false negative is caught by the insert.
type Issuer struct {
	repo  Repository
	gate  IssueGate
	inval Invalidator

	// mu guards seen. Shard workers test the filter while another request's
	// insert phase may be adding to it, so reads hold the read lock.
	mu   sync.RWMutex
	seen *bloom.BloomFilter
}

// NewIssuer creates an Issuer backed by the given repository and gate.
// inval may be nil when no cache is wired.
func NewIssuer(repo Repository, gate IssueGate, inval Invalidator) *Issuer {
	return &Issuer{
		repo:  repo,
		gate:  gate,
		inval: inval,
		seen:  bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

// Warm seeds the bloom filter with every code already stored. Best called
// once at startup; generation stays correct without it, just with more
// insert-time retries.
func (i *Issuer) Warm(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.repo.ForEachCode(ctx, func(codeStr string) {
		i.seen.AddString(codeStr)
	})
}

// seenCode reports whether the filter may already contain the code.
func (i *Issuer) seenCode(c string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.seen.TestString(c)
}

// GenerateBulk produces exactly spec.Count globally unique codes for the
// coupon, or nothing at all. Workers partition the code space by shard
// character; the combined batch is inserted in one transaction, retried a
// bounded number of times when the database reports collisions. When any
// budget runs out the whole batch fails with ErrGenerationExhausted.
func (i *Issuer) GenerateBulk(ctx context.Context, couponID string, spec GenerateSpec) ([]Code, error) {
	if spec.Count <= 0 {
		return nil, errors.New("count must be positive")
	}
	spec.applyDefaults()

	if err := i.gate.CheckIssuable(ctx, couponID); err != nil {
		return nil, err
	}
	if err := checkCapacity(spec); err != nil {
		return nil, err
	}

	candidates, err := i.generateCandidates(ctx, spec)
	if err != nil {
		return nil, err
	}

	batch := make([]Code, len(candidates))
	for n, c := range candidates {
		batch[n] = Code{
			Code:       c,
			CouponID:   couponID,
			Status:     StatusIssued,
			MaxUses:    spec.MaxUses,
			CustomerID: spec.CustomerID,
			BatchID:    spec.BatchID,
		}
	}

	if err := i.insertWithRetry(ctx, batch, spec); err != nil {
		return nil, err
	}

	i.mu.Lock()
	for n := range batch {
		i.seen.AddString(batch[n].Code)
	}
	i.mu.Unlock()

	return batch, nil
}

// generateCandidates fans generation out over shard workers and returns
// spec.Count unique candidate codes.
func (i *Issuer) generateCandidates(ctx context.Context, spec GenerateSpec) ([]string, error) {
	perShard := splitCount(spec.Count, spec.Shards)
	results := make([][]string, spec.Shards)

	g, ctx := errgroup.WithContext(ctx)
	for shard := range spec.Shards {
		g.Go(func() error {
			codes, err := i.generateShard(ctx, spec, shard, perShard[shard])
			if err != nil {
				return err
			}
			results[shard] = codes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	combined := make([]string, 0, spec.Count)
	for _, r := range results {
		combined = append(combined, r...)
	}
	return combined, nil
}

// generateShard draws candidates whose shard character belongs to this
// worker's slice of the alphabet.
func (i *Issuer) generateShard(ctx context.Context, spec GenerateSpec, shard, want int) ([]string, error) {
	chars := shardChars(spec.Shards, shard)
	local := make(map[string]struct{}, want)
	codes := make([]string, 0, want)
	budget := want * attemptsPerCode

	for len(codes) < want {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if budget <= 0 {
			return nil, errors.Wrapf(ErrGenerationExhausted,
				"shard %d produced %d of %d codes", shard, len(codes), want)
		}
		budget--

		c, err := randomCode(spec.Prefix, chars, spec.Length)
		if err != nil {
			return nil, errors.Wrap(err, "draw random code")
		}
		if _, dup := local[c]; dup {
			continue
		}
		if i.seenCode(c) {
			continue
		}
		local[c] = struct{}{}
		codes = append(codes, c)
	}
	return codes, nil
}

// insertWithRetry submits the batch, replacing database-reported duplicates
// and retrying a bounded number of times. Each attempt is all-or-nothing.
func (i *Issuer) insertWithRetry(ctx context.Context, batch []Code, spec GenerateSpec) error {
	for attempt := 0; attempt < insertRetries; attempt++ {
		err := i.repo.InsertBatch(ctx, batch)
		if err == nil {
			return nil
		}

		var dup *DuplicateError
		if !errors.As(err, &dup) {
			return errors.Wrap(err, "insert code batch")
		}

		taken := make(map[string]struct{}, len(dup.Codes))
		i.mu.Lock()
		for _, c := range dup.Codes {
			i.seen.AddString(c)
			taken[c] = struct{}{}
		}
		i.mu.Unlock()
		if err := i.replaceDuplicates(ctx, batch, taken, spec); err != nil {
			return err
		}
	}
	return errors.Wrapf(ErrGenerationExhausted, "after %d insert attempts", insertRetries)
}

// replaceDuplicates redraws fresh codes for the batch entries the database
// rejected, keeping the batch size constant.
func (i *Issuer) replaceDuplicates(ctx context.Context, batch []Code, taken map[string]struct{}, spec GenerateSpec) error {
	inBatch := make(map[string]struct{}, len(batch))
	for n := range batch {
		inBatch[batch[n].Code] = struct{}{}
	}

	budget := len(taken) * attemptsPerCode
	for n := range batch {
		if _, dup := taken[batch[n].Code]; !dup {
			continue
		}
		for {
			if budget <= 0 {
				return errors.Wrap(ErrGenerationExhausted, "replace duplicates")
			}
			budget--

			c, err := randomCode(spec.Prefix, alphabet, spec.Length)
			if err != nil {
				return errors.Wrap(err, "draw random code")
			}
			if _, clash := inBatch[c]; clash {
				continue
			}
			if i.seenCode(c) {
				continue
			}
			delete(inBatch, batch[n].Code)
			inBatch[c] = struct{}{}
			batch[n].Code = c
			break
		}
	}
	return nil
}

// AssignToCustomers binds one unissued code of the coupon to each customer id.
// The operation is all-or-nothing: it fails with ErrNotEnoughCodes when fewer
// unissued codes remain than customers requested.
func (i *Issuer) AssignToCustomers(ctx context.Context, couponID string, customerIDs []string) ([]Assignment, error) {
	if len(customerIDs) == 0 {
		return nil, errors.New("customer ids required")
	}
	if err := i.gate.CheckIssuable(ctx, couponID); err != nil {
		return nil, err
	}
	assignments, err := i.repo.AssignToCustomers(ctx, couponID, customerIDs)
	if err != nil {
		return nil, err
	}
	if i.inval != nil {
		for _, a := range assignments {
			i.inval.InvalidateCode(a.Code)
		}
	}
	return assignments, nil
}

// Revoke moves the given ISSUED codes to REVOKED. REDEEMED codes cannot be
// revoked; the corresponding redemption must be refunded instead.
func (i *Issuer) Revoke(ctx context.Context, couponID string, codes []string, reason string) error {
	if len(codes) == 0 {
		return errors.New("codes required")
	}
	if err := i.repo.Revoke(ctx, couponID, codes, reason); err != nil {
		return err
	}
	if i.inval != nil {
		for _, c := range codes {
			i.inval.InvalidateCode(c)
		}
	}
	return nil
}

// checkCapacity rejects requests that would consume more than half of the
// smallest shard's code space, where collisions would dominate.
func checkCapacity(spec GenerateSpec) error {
	perShard := splitCount(spec.Count, spec.Shards)

	// Code space per shard: shardChars * alphabet^(Length-1), computed with
	// saturation to avoid overflow for long codes.
	space := float64(len(shardChars(spec.Shards, 0)))
	for range spec.Length - 1 {
		space *= float64(len(alphabet))
		if space > 1e15 {
			return nil
		}
	}
	if float64(perShard[0]) > space/2 {
		return errors.Wrapf(ErrGenerationExhausted,
			"code space too small: %d codes into %.0f combinations per shard", perShard[0], space)
	}
	return nil
}

// shardChars returns the slice of the alphabet owned by the given shard.
func shardChars(shards, shard int) string {
	per := len(alphabet) / shards
	lo := shard * per
	hi := lo + per
	if shard == shards-1 {
		hi = len(alphabet)
	}
	return alphabet[lo:hi]
}

// splitCount distributes count across shards as evenly as possible, with the
// remainder going to the first shards.
func splitCount(count, shards int) []int {
	per := make([]int, shards)
	for n := range per {
		per[n] = count / shards
	}
	for n := range count % shards {
		per[n]++
	}
	return per
}

// randomCode draws prefix + one shard character + (length-1) random characters
// using crypto/rand. Tail bytes map uniformly because the alphabet has 32
// entries; the shard character comes from a slice whose length need not
// divide 256, so it is drawn by rejection sampling.
func randomCode(prefix, chars string, length int) (string, error) {
	shardChar, err := randomChar(chars)
	if err != nil {
		return "", err
	}
	buf := make([]byte, length-1)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(prefix) + length)
	b.WriteString(prefix)
	b.WriteByte(shardChar)
	for _, v := range buf {
		b.WriteByte(alphabet[int(v)%len(alphabet)])
	}
	return b.String(), nil
}

// randomChar draws one character of s uniformly, rejecting bytes from the
// truncated top of the range.
func randomChar(s string) (byte, error) {
	limit := 256 - 256%len(s)
	var one [1]byte
	for {
		if _, err := rand.Read(one[:]); err != nil {
			return 0, err
		}
		if int(one[0]) < limit {
			return s[int(one[0])%len(s)], nil
		}
	}
}
