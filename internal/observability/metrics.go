// Package observability holds the process-level prometheus metrics for the
// protection engine. These are operational counters for dashboards; the
// abuse-pattern Monitor consumes the richer per-check Metric stream instead.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "rate_limit_checks_total",
		Help:      "Rate limit checks by limit type and outcome.",
	}, []string{"limit_type", "outcome"})

	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "counter_store_errors_total",
		Help:      "Counter store failures that caused a fail-open allow.",
	})

	BlocksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "security_blocks_created_total",
		Help:      "Security blocks created, by block type.",
	}, []string{"block_type"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "alerts_raised_total",
		Help:      "Alerts raised by the pattern monitor.",
	}, []string{"detector", "severity"})
)
