package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// CounterStore is the shared, externally-visible state behind the limiter.
// All rate-limit state lives here; sentinel processes hold none of it, so
// any number of identical instances can enforce the same limits.
type CounterStore interface {
	// SlidingWindowCount atomically removes window entries older than
	// now-window, counts the survivors, adds an entry for now, and refreshes
	// the key's expiry. This must be a single round trip against the store:
	// two concurrent callers for the same key must never both see the last
	// free slot. The returned count excludes the entry just added; member
	// identifies that entry for rollback.
	SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, member string, err error)

	// RemoveMember deletes one window entry. Used to roll back the entry a
	// denied request added, so denials do not consume window capacity.
	RemoveMember(ctx context.Context, key, member string) error

	// IncrWithTTL increments an integer counter and re-arms its TTL,
	// returning the new value.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetBytes returns the value at key, or (nil, nil) when absent/expired.
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// SetBytes stores a value with a TTL, overwriting any previous value.
	SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Del removes a key.
	Del(ctx context.Context, key string) error
}

// Key layout shared by every store implementation. The window suffix is the
// window name ("minute", "hour", "day").
func windowKey(limitType, identifier, window string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", limitType, identifier, window)
}

func violationKey(limitType, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s:violations", limitType, identifier)
}

func deniedKey(limitType, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s:denied", limitType, identifier)
}

func blockKey(limitType, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s:block", limitType, identifier)
}
