package monitor

import (
	"time"

	"github.com/finflow-labs/sentinel/internal/policy"
)

// Metric is one rate-limit check outcome. The pipeline emits one per check;
// the monitor and the event stream are its only consumers.
type Metric struct {
	Timestamp    time.Time        `json:"timestamp"`
	Identifier   string           `json:"identifier"`
	LimitType    policy.LimitType `json:"limit_type"`
	Allowed      bool             `json:"allowed"`
	CurrentUsage int              `json:"current_usage"`
	Limit        int              `json:"limit"`
	Remaining    int              `json:"remaining"`
	ClientIP     string           `json:"client_ip"`
	Endpoint     string           `json:"endpoint"`
	UserTier     policy.Tier      `json:"user_tier"`
}
