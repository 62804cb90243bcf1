package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/finflow-labs/sentinel/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// expiryMargin keeps window keys alive slightly past the window edge so a
// request landing right at the boundary still sees the old entries purge.
const expiryMargin = time.Minute

// RedisStore is the production CounterStore. Window counters are sorted
// sets scored by nanosecond timestamp; the purge+count+add+expire sequence
// runs as one MULTI/EXEC round trip.
type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int64, string, error) {
	windowStart := now.Add(-window)

	// Member carries a uuid suffix so two requests on the same nanosecond
	// still count as two entries.
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])

	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: member,
	})
	pipe.Expire(ctx, key, window+expiryMargin)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return countCmd.Val(), member, nil
}

func (s *RedisStore) RemoveMember(ctx context.Context, key, member string) error {
	if err := s.redis.ZRem(ctx, key, member); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.redis.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.redis.Expire(ctx, key, ttl); err != nil {
		return n, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	val, err := s.redis.Get(ctx, key)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return []byte(val), nil
}

func (s *RedisStore) SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, val, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
