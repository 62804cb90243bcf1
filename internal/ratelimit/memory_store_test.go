package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SlidingWindowCountPrunesOldEntries(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		count, member, err := store.SlidingWindowCount(ctx, "w", time.Minute, clock.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(i), count, "count is taken before the new entry is added")
		assert.NotEmpty(t, member)
		clock.Advance(10 * time.Second)
	}

	// 70s after the first entry: entries at t=0 and t=10 have aged out.
	clock.Advance(40 * time.Second)
	count, _, err := store.SlidingWindowCount(ctx, "w", time.Minute, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_MembersAreUnique(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		// Same timestamp on purpose: uniqueness must not depend on the clock.
		_, member, err := store.SlidingWindowCount(ctx, "w", time.Minute, now)
		require.NoError(t, err)
		require.False(t, seen[member], "duplicate member %q", member)
		seen[member] = true
	}
}

func TestMemoryStore_RemoveMember(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, member, err := store.SlidingWindowCount(ctx, "w", time.Minute, now)
	require.NoError(t, err)
	require.NoError(t, store.RemoveMember(ctx, "w", member))

	count, _, err := store.SlidingWindowCount(ctx, "w", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Removing an unknown member is a no-op, matching ZREM.
	assert.NoError(t, store.RemoveMember(ctx, "w", "no-such-member"))
}

func TestMemoryStore_IncrWithTTLResetsAfterExpiry(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Now = clock.Now
	ctx := context.Background()

	n, err := store.IncrWithTTL(ctx, "violations", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Each increment re-arms the TTL.
	clock.Advance(50 * time.Minute)
	n, err = store.IncrWithTTL(ctx, "violations", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	clock.Advance(61 * time.Minute)
	n, err = store.IncrWithTTL(ctx, "violations", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counter restarts once the TTL lapses")
}

func TestMemoryStore_GetSetDelBytes(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.Now = clock.Now
	ctx := context.Background()

	got, err := store.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "missing key reads as nil, not an error")

	require.NoError(t, store.SetBytes(ctx, "k", []byte("v"), time.Minute))
	got, err = store.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(2 * time.Minute)
	got, err = store.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "value expires with its TTL")

	require.NoError(t, store.SetBytes(ctx, "k", []byte("v2"), 0))
	clock.Advance(24 * time.Hour)
	got, err = store.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got, "zero TTL means no expiry")

	require.NoError(t, store.Del(ctx, "k"))
	got, err = store.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_ConcurrentWindowWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.SlidingWindowCount(ctx, "w", time.Minute, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, _, err := store.SlidingWindowCount(ctx, "w", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)
}
