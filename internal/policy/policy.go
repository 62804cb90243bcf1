package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/finflow-labs/sentinel/internal/config"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
	TierAdmin      Tier = "admin"
)

type LimitType string

const (
	TypeGeneral    LimitType = "general"
	TypeAuth       LimitType = "auth"
	TypeUpload     LimitType = "upload"
	TypeAnalytics  LimitType = "analytics"
	TypeAdmin      LimitType = "admin"
	TypeBruteForce LimitType = "brute_force"
	TypeDDoS       LimitType = "ddos"
)

// Tiers lists every subscription tier the registry must cover.
var Tiers = []Tier{TierFree, TierPremium, TierEnterprise, TierAdmin}

// Types lists every limit type the pipeline can ask about.
var Types = []LimitType{
	TypeGeneral, TypeAuth, TypeUpload, TypeAnalytics,
	TypeAdmin, TypeBruteForce, TypeDDoS,
}

func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFree, TierPremium, TierEnterprise, TierAdmin:
		return Tier(s), true
	}
	return "", false
}

func ParseLimitType(s string) (LimitType, bool) {
	switch LimitType(s) {
	case TypeGeneral, TypeAuth, TypeUpload, TypeAnalytics,
		TypeAdmin, TypeBruteForce, TypeDDoS:
		return LimitType(s), true
	}
	return "", false
}

// RateLimitConfig is the immutable limit tuple for one (type,tier) pair.
type RateLimitConfig struct {
	RequestsPerMinute    int
	RequestsPerHour      int
	RequestsPerDay       int
	BurstAllowance       int
	BlockDurationMinutes int
}

func (c RateLimitConfig) BlockDuration() time.Duration {
	return time.Duration(c.BlockDurationMinutes) * time.Minute
}

// ErrConfigMissing marks a hole in the policy table. Validate runs at
// startup, so a request-time lookup can only hit this if the registry was
// built without validation.
var ErrConfigMissing = errors.New("missing rate limit config")

type pair struct {
	limitType LimitType
	tier      Tier
}

// Registry is the static rate-limit policy table. It is built once at
// startup and never mutated afterwards; redeployment is the update path.
type Registry struct {
	configs map[pair]RateLimitConfig
}

// NewRegistry builds the registry from the compiled-in defaults plus any
// per-pair overrides from config, then validates totality.
func NewRegistry(overrides []config.LimitOverride) (*Registry, error) {
	r := &Registry{configs: defaultConfigs()}

	for _, o := range overrides {
		lt, ok := ParseLimitType(o.Type)
		if !ok {
			return nil, fmt.Errorf("policy: unknown limit type %q in override", o.Type)
		}
		tier, ok := ParseTier(o.Tier)
		if !ok {
			return nil, fmt.Errorf("policy: unknown tier %q in override", o.Tier)
		}
		if lt == TypeDDoS {
			tier = TierFree
		}
		cfg := r.configs[pair{lt, tier}]
		if o.RequestsPerMinute > 0 {
			cfg.RequestsPerMinute = o.RequestsPerMinute
		}
		if o.RequestsPerHour > 0 {
			cfg.RequestsPerHour = o.RequestsPerHour
		}
		if o.RequestsPerDay > 0 {
			cfg.RequestsPerDay = o.RequestsPerDay
		}
		if o.BurstAllowance > 0 {
			cfg.BurstAllowance = o.BurstAllowance
		}
		if o.BlockDurationMinutes > 0 {
			cfg.BlockDurationMinutes = o.BlockDurationMinutes
		}
		r.configs[pair{lt, tier}] = cfg
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// Config returns the limit tuple for a (type,tier) pair. DDoS limits are
// IP-scoped and ignore the caller's tier entirely.
func (r *Registry) Config(limitType LimitType, tier Tier) (RateLimitConfig, error) {
	if limitType == TypeDDoS {
		tier = TierFree
	}

	cfg, ok := r.configs[pair{limitType, tier}]
	if !ok {
		return RateLimitConfig{}, fmt.Errorf("%w for (%s,%s)", ErrConfigMissing, limitType, tier)
	}
	return cfg, nil
}

// Validate confirms every pair the pipeline can request has an entry.
// Run at startup so a hole in the table can never surface at request time.
func (r *Registry) Validate() error {
	for _, lt := range Types {
		if lt == TypeDDoS {
			if _, ok := r.configs[pair{lt, TierFree}]; !ok {
				return fmt.Errorf("%w for (%s,%s)", ErrConfigMissing, lt, TierFree)
			}
			continue
		}
		for _, tier := range Tiers {
			if _, ok := r.configs[pair{lt, tier}]; !ok {
				return fmt.Errorf("%w for (%s,%s)", ErrConfigMissing, lt, tier)
			}
		}
	}
	return nil
}

// Brute-force block durations intentionally shrink as the tier rises;
// product treats paying customers as lower-risk for credential guessing.
func defaultConfigs() map[pair]RateLimitConfig {
	return map[pair]RateLimitConfig{
		{TypeGeneral, TierFree}:       {60, 1000, 10000, 10, 15},
		{TypeGeneral, TierPremium}:    {300, 10000, 100000, 50, 10},
		{TypeGeneral, TierEnterprise}: {1000, 50000, 500000, 200, 5},
		{TypeGeneral, TierAdmin}:      {5000, 100000, 1000000, 500, 5},

		{TypeAuth, TierFree}:       {5, 20, 100, 0, 30},
		{TypeAuth, TierPremium}:    {10, 50, 200, 2, 20},
		{TypeAuth, TierEnterprise}: {20, 100, 500, 5, 15},
		{TypeAuth, TierAdmin}:      {50, 500, 2000, 10, 10},

		{TypeUpload, TierFree}:       {5, 50, 200, 0, 30},
		{TypeUpload, TierPremium}:    {30, 300, 2000, 5, 20},
		{TypeUpload, TierEnterprise}: {100, 1000, 10000, 20, 10},
		{TypeUpload, TierAdmin}:      {200, 2000, 20000, 50, 10},

		{TypeAnalytics, TierFree}:       {10, 100, 500, 0, 20},
		{TypeAnalytics, TierPremium}:    {60, 1000, 10000, 10, 15},
		{TypeAnalytics, TierEnterprise}: {300, 10000, 100000, 50, 10},
		{TypeAnalytics, TierAdmin}:      {1000, 20000, 200000, 100, 10},

		{TypeAdmin, TierFree}:       {2, 10, 50, 0, 60},
		{TypeAdmin, TierPremium}:    {2, 10, 50, 0, 60},
		{TypeAdmin, TierEnterprise}: {10, 100, 500, 0, 30},
		{TypeAdmin, TierAdmin}:      {100, 1000, 10000, 20, 15},

		{TypeBruteForce, TierFree}:       {3, 10, 30, 0, 120},
		{TypeBruteForce, TierPremium}:    {5, 20, 60, 0, 60},
		{TypeBruteForce, TierEnterprise}: {10, 40, 120, 0, 30},
		{TypeBruteForce, TierAdmin}:      {20, 100, 300, 0, 15},

		{TypeDDoS, TierFree}: {100, 2000, 10000, 20, 240},
	}
}
