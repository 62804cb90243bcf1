package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock drives both the limiter and the store so window expiry can be
// exercised without sleeping.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(t *testing.T) (*Limiter, *MemoryStore, *testClock) {
	t.Helper()

	registry, err := policy.NewRegistry(nil)
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Now = clock.Now

	blocks := NewBlockStore(store)
	blocks.now = clock.Now

	limiter := NewLimiter(registry, store, blocks)
	limiter.now = clock.Now

	return limiter, store, clock
}

// Free tier auth: 5/min, 20/hour, 100/day, burst 0, block 30min.
func TestCheck_RemainingCountsDown(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for _, want := range []int{4, 3, 2, 1, 0} {
		res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, want, res.Remaining)
		clock.Advance(2 * time.Second)
	}
}

func TestCheck_DeniesOverMinuteLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.False(t, res.Allowed)
	assert.False(t, res.Blocked)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 5, res.CurrentUsage)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestCheck_WindowResetsAfterElapse(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	require.False(t, res.Allowed)

	clock.Advance(61 * time.Second)

	res, err = limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "minute window should be fully reset after 61s")
}

// A denied request must not occupy window capacity: deny, then confirm the
// next allowed request sees the same remaining as if the denial never
// happened.
func TestCheck_DenialRollsBackWindowEntry(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	// Denied twice; neither attempt may consume capacity.
	for i := 0; i < 2; i++ {
		res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.ErrorIs(t, err, ErrRateLimitExceeded)
		require.False(t, res.Allowed)
		assert.Equal(t, 5, res.CurrentUsage, "window count must not grow on denial")
	}

	// At t=60s only the first request has aged out; exactly one slot opens.
	clock.Advance(55 * time.Second)
	res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestCheck_ThreeViolationsCreateBlock(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
	}

	// Three denials within the hour escalate to a security block.
	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.ErrorIs(t, err, ErrRateLimitExceeded)
		require.False(t, res.Allowed)
		clock.Advance(time.Second)
	}

	block, err := limiter.Blocks().Get(ctx, "user:42", policy.TypeAuth)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, "repeated violations", block.Reason)

	wantUntil := clock.Now().Add(30 * time.Minute)
	assert.WithinDuration(t, wantUntil, block.BlockedUntil, 5*time.Second)
}

// Rollback keeps CurrentUsage pinned at the limit, so the rolling-minute
// denial counter has to carry the excess pressure, and it has to keep
// counting while a block is active.
func TestCheck_DeniedAttemptsKeepCountingWhileBlocked(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
	}

	for i := 1; i <= 3; i++ {
		res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.ErrorIs(t, err, ErrRateLimitExceeded)
		assert.Equal(t, int64(i), res.DeniedAttempts)
	}

	// The third denial escalated to a block; the gate keeps counting even
	// though the request windows are no longer touched.
	res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.ErrorIs(t, err, ErrSecurityBlocked)
	assert.Equal(t, int64(4), res.DeniedAttempts)

	// Old denials roll off after a minute.
	clock.Advance(61 * time.Second)
	res, err = limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.ErrorIs(t, err, ErrSecurityBlocked)
	assert.Equal(t, int64(1), res.DeniedAttempts)
}

func TestCheck_ActiveBlockDeniesWithShrinkingRetryAfter(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	err := limiter.Blocks().Create(ctx, "user:42", policy.TypeAuth, 30*time.Minute, "repeated violations", "rate_limit", 3)
	require.NoError(t, err)

	res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.ErrorIs(t, err, ErrSecurityBlocked)
	require.False(t, res.Allowed)
	assert.True(t, res.Blocked)
	assert.Equal(t, 0, res.Remaining)
	first := res.RetryAfter

	clock.Advance(10 * time.Minute)

	res, err = limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.ErrorIs(t, err, ErrSecurityBlocked)
	require.True(t, res.Blocked)
	assert.Less(t, res.RetryAfter, first, "retry_after should shrink as the block ages")

	clock.Advance(21 * time.Minute)

	res, err = limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "expired block must not deny")
}

func TestCheck_BlockSkipsWindowCounters(t *testing.T) {
	limiter, store, _ := newTestLimiter(t)
	ctx := context.Background()

	err := limiter.Blocks().Create(ctx, "user:42", policy.TypeAuth, 30*time.Minute, "test", "rate_limit", 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := limiter.Check(ctx, "user:42", policy.TypeAuth, policy.TierFree)
		require.ErrorIs(t, err, ErrSecurityBlocked)
		require.True(t, res.Blocked)
	}

	for _, name := range []string{"minute", "hour", "day"} {
		assert.NotContains(t, store.windows, windowKey("auth", "user:42", name),
			"blocked checks must not touch request windows")
	}
	// The rolling denial counter is the one thing a blocked check records.
	assert.Contains(t, store.windows, deniedKey("auth", "user:42"))
}

func TestCheck_DDoSForcesFreeTier(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	// ddos free: 100/min + 20 burst
	var denied bool
	for i := 0; i < 125; i++ {
		res, err := limiter.Check(ctx, "ip:203.0.113.9", policy.TypeDDoS, policy.TierEnterprise)
		if !res.Allowed {
			require.ErrorIs(t, err, ErrRateLimitExceeded)
			denied = true
			assert.Equal(t, 120, res.Limit)
			break
		}
		require.NoError(t, err)
	}
	assert.True(t, denied, "enterprise tier must not widen the ddos limit")
}

func TestCheck_HourWindowDeniesIndependently(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	// auth free: 5/min, 20/hour. Spread 20 requests over 20 minutes, then
	// the hour window is the binding constraint.
	for i := 0; i < 20; i++ {
		res, err := limiter.Check(ctx, "user:7", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
		clock.Advance(time.Minute)
	}

	res, err := limiter.Check(ctx, "user:7", policy.TypeAuth, policy.TierFree)
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Hour, res.RetryAfter)
}

func TestCheck_RemainingIsMostRestrictiveWindow(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	// 15 requests one minute apart: the minute window keeps draining while
	// the hour window accumulates.
	var res Result
	var err error
	for i := 0; i < 15; i++ {
		res, err = limiter.Check(ctx, "user:7", policy.TypeAuth, policy.TierFree)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		clock.Advance(time.Minute)
	}

	// Minute window holds just the newest entry (remaining 4); the hour
	// window would allow 5 more. The minute window is binding here.
	assert.Equal(t, 4, res.Remaining)
	assert.Equal(t, 15, res.CurrentUsage)
}

type failingStore struct{}

func (failingStore) SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int64, string, error) {
	return 0, "", ErrStoreUnavailable
}
func (failingStore) RemoveMember(ctx context.Context, key, member string) error {
	return ErrStoreUnavailable
}
func (failingStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, ErrStoreUnavailable
}
func (failingStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrStoreUnavailable
}
func (failingStore) SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return ErrStoreUnavailable
}
func (failingStore) Del(ctx context.Context, key string) error { return ErrStoreUnavailable }

func TestCheck_FailsOpenWhenStoreUnavailable(t *testing.T) {
	registry, err := policy.NewRegistry(nil)
	require.NoError(t, err)

	store := failingStore{}
	limiter := NewLimiter(registry, store, NewBlockStore(store))

	res, err := limiter.Check(context.Background(), "user:42", policy.TypeGeneral, policy.TierFree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, res.Allowed, "store outage must fail open")
	assert.True(t, res.FailedOpen)
}

func TestCheck_EmptyIdentifier(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	res, err := limiter.Check(context.Background(), "", policy.TypeGeneral, policy.TierFree)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	assert.True(t, res.Allowed, "invalid identifiers degrade, they do not deny")
}
