package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/finflow-labs/sentinel/internal/policy"
)

// Result is the outcome of one rate-limit check, with everything the
// pipeline needs for response headers and denial bodies.
type Result struct {
	Allowed      bool
	Blocked      bool // denial came from an active security block
	FailedOpen   bool // store was unreachable; allowed by policy
	LimitType    policy.LimitType
	Limit        int
	Remaining    int
	CurrentUsage int
	// DeniedAttempts is the rolling-minute count of denied requests for the
	// pair, including denials served from the block gate. Denied entries are
	// rolled back out of the request windows, so CurrentUsage alone
	// understates sustained pressure; CurrentUsage+DeniedAttempts is the
	// real observed rate.
	DeniedAttempts int64
	ResetAt        time.Time
	RetryAfter     time.Duration
}

type window struct {
	name     string
	duration time.Duration
	limit    func(policy.RateLimitConfig) int
}

// Windows are evaluated in ascending order; the first one over its limit
// denies and later windows are not touched.
var windows = []window{
	{"minute", time.Minute, func(c policy.RateLimitConfig) int { return c.RequestsPerMinute }},
	{"hour", time.Hour, func(c policy.RateLimitConfig) int { return c.RequestsPerHour }},
	{"day", 24 * time.Hour, func(c policy.RateLimitConfig) int { return c.RequestsPerDay }},
}

// ViolationTTL is how long a run of denials stays on the record; any new
// denial re-arms it.
const ViolationTTL = time.Hour

// Limiter is the sliding-window rate limiter. It keeps no mutable state of
// its own; every counter lives in the CounterStore so concurrent requests
// and separate processes all see the same windows.
type Limiter struct {
	registry *policy.Registry
	store    CounterStore
	blocks   *BlockStore

	// ViolationThreshold is the denial count that escalates to a block.
	ViolationThreshold int

	now func() time.Time
}

func NewLimiter(registry *policy.Registry, store CounterStore, blocks *BlockStore) *Limiter {
	return &Limiter{
		registry:           registry,
		store:              store,
		blocks:             blocks,
		ViolationThreshold: 3,
		now:                time.Now,
	}
}

func (l *Limiter) Blocks() *BlockStore {
	return l.blocks
}

// Check evaluates one request against the sliding windows for
// (identifier, limitType, tier).
//
// An active security block denies immediately without touching counters.
// Otherwise each window atomically purges, counts and records the request;
// the first window over its effective limit denies, rolls the request's
// entries back out, and bumps the violation counter, escalating to a
// security block at the threshold.
//
// A denial carries ErrRateLimitExceeded (window over its limit) or
// ErrSecurityBlocked (active block) alongside the Result, so callers can
// branch on the cause with errors.Is.
//
// A store failure fails OPEN: the request is allowed, the Result is marked
// FailedOpen, and the wrapped ErrStoreUnavailable is returned for logging.
// Enforcement is defense in depth; the protected service stays available.
func (l *Limiter) Check(ctx context.Context, identifier string, limitType policy.LimitType, tier policy.Tier) (Result, error) {
	if identifier == "" {
		return Result{Allowed: true, LimitType: limitType}, ErrInvalidIdentifier
	}

	// DDoS limits are IP-scoped and tier-blind.
	if limitType == policy.TypeDDoS {
		tier = policy.TierFree
	}

	cfg, err := l.registry.Config(limitType, tier)
	if err != nil {
		// Registry is validated at startup; treat a hole as fail-open.
		log.Printf("rate limit config missing for (%s,%s): %v", limitType, tier, err)
		return Result{Allowed: true, FailedOpen: true, LimitType: limitType}, err
	}

	now := l.now()
	minuteLimit := cfg.RequestsPerMinute + cfg.BurstAllowance

	block, err := l.blocks.Get(ctx, identifier, limitType)
	if err != nil {
		log.Printf("block lookup failed for %s/%s, failing open: %v", limitType, identifier, err)
		return l.failOpen(limitType, minuteLimit, now), fmt.Errorf("block lookup: %w", err)
	}
	if block != nil {
		return Result{
			Allowed:        false,
			Blocked:        true,
			LimitType:      limitType,
			Limit:          minuteLimit,
			Remaining:      0,
			DeniedAttempts: l.recordDenied(ctx, identifier, limitType, now),
			ResetAt:        block.BlockedUntil,
			RetryAfter:     block.BlockedUntil.Sub(now),
		}, ErrSecurityBlocked
	}

	type added struct {
		key    string
		member string
	}
	var members []added

	minRemaining := -1
	maxUsage := 0

	for _, w := range windows {
		key := windowKey(string(limitType), identifier, w.name)

		count, member, err := l.store.SlidingWindowCount(ctx, key, w.duration, now)
		if err != nil {
			log.Printf("window count failed for %s, failing open: %v", key, err)
			return l.failOpen(limitType, minuteLimit, now), fmt.Errorf("window %s: %w", w.name, err)
		}
		members = append(members, added{key, member})

		current := int(count) + 1
		effective := w.limit(cfg) + cfg.BurstAllowance

		if current > effective {
			// A denied request must not occupy window capacity: take back
			// every entry this check added, not just the denying window's.
			for _, m := range members {
				if err := l.store.RemoveMember(ctx, m.key, m.member); err != nil {
					log.Printf("rollback failed for %s: %v", m.key, err)
				}
			}

			l.recordViolation(ctx, identifier, limitType, cfg, current-1)

			return Result{
				Allowed:        false,
				LimitType:      limitType,
				Limit:          effective,
				Remaining:      0,
				CurrentUsage:   current - 1,
				DeniedAttempts: l.recordDenied(ctx, identifier, limitType, now),
				ResetAt:        now.Add(w.duration),
				RetryAfter:     w.duration,
			}, ErrRateLimitExceeded
		}

		if remaining := effective - current; minRemaining < 0 || remaining < minRemaining {
			minRemaining = remaining
		}
		if current > maxUsage {
			maxUsage = current
		}
	}

	return Result{
		Allowed:      true,
		LimitType:    limitType,
		Limit:        minuteLimit,
		Remaining:    minRemaining,
		CurrentUsage: maxUsage,
		ResetAt:      now.Add(time.Minute),
	}, nil
}

// recordViolation bumps the denial tally and escalates to a security block
// once it reaches the threshold. Failures here are logged, never fatal:
// the denial already stands.
func (l *Limiter) recordViolation(ctx context.Context, identifier string, limitType policy.LimitType, cfg policy.RateLimitConfig, attempts int) {
	count, err := l.store.IncrWithTTL(ctx, violationKey(string(limitType), identifier), ViolationTTL)
	if err != nil {
		log.Printf("violation counter failed for %s/%s: %v", limitType, identifier, err)
		return
	}

	if count < int64(l.ViolationThreshold) {
		return
	}

	err = l.blocks.Create(ctx, identifier, limitType, cfg.BlockDuration(), "repeated violations", "rate_limit", attempts)
	if err != nil {
		log.Printf("escalation block failed for %s/%s: %v", limitType, identifier, err)
		return
	}
	log.Printf("security block created for %s/%s after %d violations (%s)",
		limitType, identifier, count, cfg.BlockDuration())
}

// recordDenied adds one entry to the rolling-minute denial window and
// returns the total. Unlike the request windows these entries are never
// rolled back, and they keep accumulating while a block is active, so the
// count reflects real attempt pressure rather than stored window capacity.
// Failures degrade to zero; escalation decisions just need a floor.
func (l *Limiter) recordDenied(ctx context.Context, identifier string, limitType policy.LimitType, now time.Time) int64 {
	count, _, err := l.store.SlidingWindowCount(ctx, deniedKey(string(limitType), identifier), time.Minute, now)
	if err != nil {
		log.Printf("denial counter failed for %s/%s: %v", limitType, identifier, err)
		return 0
	}
	return count + 1
}

func (l *Limiter) failOpen(limitType policy.LimitType, limit int, now time.Time) Result {
	return Result{
		Allowed:    true,
		FailedOpen: true,
		LimitType:  limitType,
		Limit:      limit,
		Remaining:  limit,
		ResetAt:    now.Add(time.Minute),
	}
}
