package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memberEntry struct {
	member string
	score  time.Time
}

type valueEntry struct {
	data      []byte
	expiresAt time.Time
}

type counterEntry struct {
	n         int64
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore for development and tests. It
// honors the same atomicity contract under one mutex, but offers none of
// the cross-process sharing the Redis store exists for.
type MemoryStore struct {
	// Now is the clock; tests swap it to drive window expiry.
	Now func() time.Time

	mu       sync.Mutex
	windows  map[string][]memberEntry
	values   map[string]valueEntry
	counters map[string]counterEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:      time.Now,
		windows:  make(map[string][]memberEntry),
		values:   make(map[string]valueEntry),
		counters: make(map[string]counterEntry),
	}
}

func (s *MemoryStore) SlidingWindowCount(ctx context.Context, key string, window time.Duration, now time.Time) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, e := range s.windows[key] {
		if e.score.After(cutoff) {
			kept = append(kept, e)
		}
	}

	count := int64(len(kept))
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])
	s.windows[key] = append(kept, memberEntry{member: member, score: now})

	return count, member, nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.windows[key]
	for i, e := range entries {
		if e.member == member {
			s.windows[key] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	c := s.counters[key]
	if !c.expiresAt.IsZero() && now.After(c.expiresAt) {
		c = counterEntry{}
	}
	c.n++
	c.expiresAt = now.Add(ttl)
	s.counters[key] = c

	return c.n, nil
}

func (s *MemoryStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	if !v.expiresAt.IsZero() && s.Now().After(v.expiresAt) {
		delete(s.values, key)
		return nil, nil
	}
	return v.data, nil
}

func (s *MemoryStore) SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := valueEntry{data: val}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	s.values[key] = e
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.counters, key)
	delete(s.windows, key)
	return nil
}
