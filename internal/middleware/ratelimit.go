package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/finflow-labs/sentinel/internal/config"
	"github.com/finflow-labs/sentinel/internal/monitor"
	"github.com/finflow-labs/sentinel/internal/observability"
	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/ratelimit"
	"github.com/finflow-labs/sentinel/internal/stream"
	"github.com/gin-gonic/gin"
)

// ddosBlockDuration is the escalated block applied when an IP's observed
// pressure exceeds twice the DDoS limit. Stronger than the generic
// three-violation escalation on purpose.
const ddosBlockDuration = 240 * time.Minute

const (
	denialRateLimit  = "rate_limit"
	denialDDoS       = "ddos_protection"
	denialBruteForce = "brute_force_protection"
)

type endpointRule struct {
	prefix    string
	limitType policy.LimitType
}

// Pipeline is the request interception pipeline: DDoS check, brute-force
// check, endpoint-type check, in that order, short-circuiting on the first
// denial. Any internal failure lets the request through; enforcement is
// defense in depth, never an availability risk for the backend.
type Pipeline struct {
	limiter   *ratelimit.Limiter
	monitor   *monitor.Monitor
	publisher *stream.Publisher
	audit     AuditSink

	trusted       []netip.Prefix
	sensitive     map[string]bool
	excluded      map[string]bool
	endpointRules []endpointRule
}

// AuditSink receives denial records; implemented by the gorm repository.
type AuditSink interface {
	RecordDenial(identifier string, limitType policy.LimitType, tier policy.Tier, endpoint, clientIP, detail string)
}

func NewPipeline(limiter *ratelimit.Limiter, mon *monitor.Monitor, publisher *stream.Publisher, audit AuditSink, cfg config.LimitsConfig) (*Pipeline, error) {
	p := &Pipeline{
		limiter:   limiter,
		monitor:   mon,
		publisher: publisher,
		audit:     audit,
		sensitive: make(map[string]bool),
		excluded:  make(map[string]bool),
	}

	for _, cidr := range cfg.TrustedCIDRs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted CIDR %q: %w", cidr, err)
		}
		p.trusted = append(p.trusted, prefix)
	}

	for _, path := range cfg.SensitiveEndpoints {
		p.sensitive[path] = true
	}
	for _, path := range cfg.ExcludedPaths {
		p.excluded[path] = true
	}

	for _, rule := range cfg.EndpointRules {
		lt, ok := policy.ParseLimitType(rule.Type)
		if !ok {
			return nil, fmt.Errorf("invalid limit type %q for endpoint rule %q", rule.Type, rule.Prefix)
		}
		p.endpointRules = append(p.endpointRules, endpointRule{rule.Prefix, lt})
	}
	if len(p.endpointRules) == 0 {
		p.endpointRules = []endpointRule{
			{"/api/auth", policy.TypeAuth},
			{"/api/uploads", policy.TypeUpload},
			{"/api/analytics", policy.TypeAnalytics},
			{"/api/admin", policy.TypeAdmin},
			{"/admin", policy.TypeAdmin},
		}
	}

	return p, nil
}

func (p *Pipeline) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if p.excluded[path] {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		clientIP := c.ClientIP()
		identifier := Identifier(c)
		tier := TierOf(c)

		// 1. DDoS: IP-scoped, tier-blind, skipped for trusted ranges.
		if !p.trustedIP(clientIP) {
			res, err := p.limiter.Check(ctx, "ip:"+clientIP, policy.TypeDDoS, policy.TierFree)
			p.observe(c, res, "ip:"+clientIP, policy.TierFree, err)

			if !res.Allowed {
				// Rolled-back denials keep CurrentUsage at the limit, so the
				// rolling-minute denial count carries the excess pressure.
				observed := int64(res.CurrentUsage) + res.DeniedAttempts
				if observed > 2*int64(res.Limit) {
					p.escalateDDoS(ctx, clientIP, observed)
				}
				p.reject(c, res, denialDDoS, identifier, tier)
				return
			}
		}

		// 2. Brute force: credential-sensitive endpoints only.
		if p.sensitive[path] {
			res, err := p.limiter.Check(ctx, identifier, policy.TypeBruteForce, tier)
			p.observe(c, res, identifier, tier, err)

			if !res.Allowed {
				p.reject(c, res, denialBruteForce, identifier, tier)
				return
			}
		}

		// 3. Endpoint-type check.
		limitType := p.resolveType(path)
		res, err := p.limiter.Check(ctx, identifier, limitType, tier)
		p.observe(c, res, identifier, tier, err)

		if !res.Allowed {
			p.reject(c, res, denialRateLimit, identifier, tier)
			return
		}

		setRateLimitHeaders(c, res)
		c.Next()
	}
}

func (p *Pipeline) trustedIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range p.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (p *Pipeline) resolveType(path string) policy.LimitType {
	for _, rule := range p.endpointRules {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.limitType
		}
	}
	return policy.TypeGeneral
}

func (p *Pipeline) escalateDDoS(ctx context.Context, clientIP string, observed int64) {
	// Pressure stays over 2x for as long as the flood lasts; re-creating the
	// block on every denied request would extend it indefinitely.
	existing, err := p.limiter.Blocks().Get(ctx, "ip:"+clientIP, policy.TypeDDoS)
	if err == nil && existing != nil && existing.BlockType == "ddos" {
		return
	}

	err = p.limiter.Blocks().Create(ctx, "ip:"+clientIP, policy.TypeDDoS,
		ddosBlockDuration, "ddos pressure exceeded 2x limit", "ddos", int(observed))
	if err != nil {
		log.Printf("ddos escalation block failed for %s: %v", clientIP, err)
		return
	}
	observability.BlocksCreated.WithLabelValues("ddos").Inc()
	log.Printf("ddos escalation block created for %s (observed %d)", clientIP, observed)
}

// observe emits the Metric for one check to the monitor and the stream,
// and keeps the process counters current.
func (p *Pipeline) observe(c *gin.Context, res ratelimit.Result, identifier string, tier policy.Tier, err error) {
	outcome := "allowed"
	switch {
	case res.FailedOpen:
		outcome = "failed_open"
		observability.StoreErrors.Inc()
		if err != nil {
			log.Printf("rate limit check failed open for %s/%s: %v", res.LimitType, identifier, err)
		}
	case !res.Allowed:
		outcome = "denied"
	}
	observability.ChecksTotal.WithLabelValues(string(res.LimitType), outcome).Inc()

	metric := monitor.Metric{
		Timestamp:    time.Now(),
		Identifier:   identifier,
		LimitType:    res.LimitType,
		Allowed:      res.Allowed,
		CurrentUsage: res.CurrentUsage,
		Limit:        res.Limit,
		Remaining:    res.Remaining,
		ClientIP:     c.ClientIP(),
		Endpoint:     c.Request.URL.Path,
		UserTier:     tier,
	}

	if p.monitor != nil {
		p.monitor.Ingest(metric)
	}
	if p.publisher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.publisher.PublishMetric(ctx, metric); err != nil {
				log.Printf("metric publish failed: %v", err)
			}
		}()
	}
}

func (p *Pipeline) reject(c *gin.Context, res ratelimit.Result, denialType, identifier string, tier policy.Tier) {
	setRateLimitHeaders(c, res)

	retryAfter := int(res.RetryAfter.Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}
	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))

	reason := "rate limit exceeded"
	message := fmt.Sprintf("Too many requests. Retry after %d seconds.", retryAfter)
	if res.Blocked {
		reason = "security block active"
		message = fmt.Sprintf("Access temporarily blocked. Retry after %d seconds.", retryAfter)
	}

	if p.audit != nil {
		go p.audit.RecordDenial(identifier, res.LimitType, tier,
			c.Request.URL.Path, c.ClientIP(), reason)
	}

	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":       reason,
		"message":     message,
		"retry_after": retryAfter,
		"type":        denialType,
	})
	c.Abort()
}

func setRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", res.ResetAt.Unix()))
	c.Header("X-RateLimit-Type", string(res.LimitType))
}
