package monitor

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/finflow-labs/sentinel/internal/config"
	"github.com/finflow-labs/sentinel/internal/observability"
	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/ratelimit"
)

const (
	clusterWindow    = 5 * time.Minute
	ddosBlockMinutes = 240
)

// Monitor keeps a bounded rolling buffer of check metrics and evaluates
// abuse detectors on every ingest. The buffer is process-local: detection
// is best-effort per instance, which the deployment accepts in exchange
// for keeping the hot path free of another shared store.
type Monitor struct {
	mu   sync.Mutex
	buf  []Metric
	next int
	full bool

	alerts *AlertManager
	blocks *ratelimit.BlockStore
	cfg    config.MonitorConfig
	now    func() time.Time
}

func New(cfg config.MonitorConfig, alerts *AlertManager, blocks *ratelimit.BlockStore) *Monitor {
	size := cfg.BufferSize
	if size <= 0 {
		size = 5000
	}
	return &Monitor{
		buf:    make([]Metric, size),
		alerts: alerts,
		blocks: blocks,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (m *Monitor) Alerts() *AlertManager {
	return m.alerts
}

// Ingest records one metric (evicting the oldest when the buffer is full)
// and runs every detector against the updated buffer.
func (m *Monitor) Ingest(metric Metric) {
	m.mu.Lock()
	m.buf[m.next] = metric
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	recent := m.snapshot()
	m.detectViolationCluster(metric, recent)
	m.detectDDoS(metric, recent)
	m.detectUnusualTraffic(metric, recent)
	m.detectAuthAbuse(metric, recent)
}

// snapshot copies the live region of the ring buffer.
func (m *Monitor) snapshot() []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		out := make([]Metric, m.next)
		copy(out, m.buf[:m.next])
		return out
	}
	out := make([]Metric, len(m.buf))
	copy(out, m.buf)
	return out
}

// detectViolationCluster flags repeated denials for one (identifier,type).
func (m *Monitor) detectViolationCluster(metric Metric, recent []Metric) {
	if metric.Allowed {
		return
	}

	cutoff := m.now().Add(-clusterWindow)
	denials := 0
	for _, s := range recent {
		if !s.Allowed && s.Identifier == metric.Identifier &&
			s.LimitType == metric.LimitType && s.Timestamp.After(cutoff) {
			denials++
		}
	}

	if denials < m.cfg.ViolationThreshold {
		return
	}

	alert := m.alerts.Raise("violation_cluster", metric.Identifier, SeverityWarning,
		fmt.Sprintf("%d rate limit violations for %s (%s) within %s",
			denials, metric.Identifier, metric.LimitType, clusterWindow),
		map[string]interface{}{
			"violations": denials,
			"limit_type": string(metric.LimitType),
			"endpoint":   metric.Endpoint,
		})
	if alert != nil {
		observability.AlertsRaised.WithLabelValues("violation_cluster", string(SeverityWarning)).Inc()
	}
}

// detectDDoS flags a single IP exceeding the configured request rate over
// the rolling minute and blocks it for 4 hours. Only ddos-scope metrics
// count: the pipeline emits exactly one per request, while the brute-force
// and endpoint checks add extras that would skew the rate. The pipeline
// applies its own 2x escalation; both write the same block key so the
// outcome is idempotent.
func (m *Monitor) detectDDoS(metric Metric, recent []Metric) {
	if metric.LimitType != policy.TypeDDoS || metric.ClientIP == "" {
		return
	}

	cutoff := m.now().Add(-time.Minute)
	count := 0
	for _, s := range recent {
		if s.LimitType == policy.TypeDDoS && s.ClientIP == metric.ClientIP && s.Timestamp.After(cutoff) {
			count++
		}
	}

	threshold := int(m.cfg.DDoSRequestsPerSecond * 60)
	if count <= threshold {
		return
	}

	alert := m.alerts.Raise("ddos_signature", metric.ClientIP, SeverityCritical,
		fmt.Sprintf("possible DDoS from %s: %d requests in the last minute (threshold %d)",
			metric.ClientIP, count, threshold),
		map[string]interface{}{
			"requests_last_minute": count,
			"threshold":            threshold,
		})
	if alert == nil {
		return
	}
	observability.AlertsRaised.WithLabelValues("ddos_signature", string(SeverityCritical)).Inc()

	if m.blocks == nil {
		return
	}
	err := m.blocks.Create(context.Background(), "ip:"+metric.ClientIP, policy.TypeDDoS,
		ddosBlockMinutes*time.Minute, "ddos signature detected", "ddos", count)
	if err != nil {
		log.Printf("ddos auto-block failed for %s: %v", metric.ClientIP, err)
		return
	}
	observability.BlocksCreated.WithLabelValues("ddos").Inc()
	log.Printf("ddos auto-block created for %s (%d req/min)", metric.ClientIP, count)
}

// detectUnusualTraffic flags a sample deviating more than the configured
// number of standard deviations from the rolling hourly mean for its type.
func (m *Monitor) detectUnusualTraffic(metric Metric, recent []Metric) {
	cutoff := m.now().Add(-time.Hour)

	var usages []float64
	for _, s := range recent {
		if s.LimitType == metric.LimitType && s.Timestamp.After(cutoff) {
			usages = append(usages, float64(s.CurrentUsage))
		}
	}

	if len(usages) < m.cfg.AnomalyMinSamples {
		return
	}

	mean, stddev := meanStdDev(usages)
	if stddev == 0 {
		return
	}

	deviation := math.Abs(float64(metric.CurrentUsage) - mean)
	if deviation <= m.cfg.AnomalyStdDevs*stddev {
		return
	}

	alert := m.alerts.Raise("unusual_traffic", metric.Identifier, SeverityWarning,
		fmt.Sprintf("unusual %s traffic for %s: usage %d vs mean %.1f (stddev %.1f)",
			metric.LimitType, metric.Identifier, metric.CurrentUsage, mean, stddev),
		map[string]interface{}{
			"usage":   metric.CurrentUsage,
			"mean":    mean,
			"stddev":  stddev,
			"samples": len(usages),
		})
	if alert != nil {
		observability.AlertsRaised.WithLabelValues("unusual_traffic", string(SeverityWarning)).Inc()
	}
}

// detectAuthAbuse clusters denials on credential-sensitive limit types.
// Brute-force denials are critical; plain auth denials warn.
func (m *Monitor) detectAuthAbuse(metric Metric, recent []Metric) {
	if metric.Allowed {
		return
	}
	if metric.LimitType != policy.TypeBruteForce && metric.LimitType != policy.TypeAuth {
		return
	}

	cutoff := m.now().Add(-clusterWindow)
	denials := 0
	for _, s := range recent {
		if !s.Allowed && s.Identifier == metric.Identifier &&
			(s.LimitType == policy.TypeBruteForce || s.LimitType == policy.TypeAuth) &&
			s.Timestamp.After(cutoff) {
			denials++
		}
	}

	if denials < m.cfg.ViolationThreshold {
		return
	}

	severity := SeverityWarning
	if metric.LimitType == policy.TypeBruteForce {
		severity = SeverityCritical
	}

	alert := m.alerts.Raise("auth_abuse", metric.Identifier, severity,
		fmt.Sprintf("%d auth denials for %s within %s (latest: %s)",
			denials, metric.Identifier, clusterWindow, metric.LimitType),
		map[string]interface{}{
			"denials":    denials,
			"limit_type": string(metric.LimitType),
			"endpoint":   metric.Endpoint,
		})
	if alert != nil {
		observability.AlertsRaised.WithLabelValues("auth_abuse", string(severity)).Inc()
	}
}

func meanStdDev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
