package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID         string                 `json:"id"`
	Severity   Severity               `json:"severity"`
	Type       string                 `json:"type"`
	Identifier string                 `json:"identifier"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Channels   []string               `json:"channels"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

// Channel delivers alerts to one destination (log line, webhook, Slack,
// the audit table, the kafka stream). A failing channel never stops
// delivery to the others.
type Channel interface {
	Name() string
	Send(alert Alert) error
}

// dedupWindow suppresses re-raising an alert for the same (type,identifier)
// while an unresolved one younger than this exists.
const dedupWindow = 5 * time.Minute

// AlertManager owns the in-memory alert set: dedup on raise, fan-out to
// channels, resolution, and garbage collection of resolved alerts past the
// retention window.
type AlertManager struct {
	mu        sync.Mutex
	alerts    map[string]*Alert // by ID
	latest    map[string]*Alert // by dedup key, most recent raise
	channels  []Channel
	retention time.Duration
	now       func() time.Time
}

func NewAlertManager(channels []Channel, retention time.Duration) *AlertManager {
	return &AlertManager{
		alerts:    make(map[string]*Alert),
		latest:    make(map[string]*Alert),
		channels:  channels,
		retention: retention,
		now:       time.Now,
	}
}

// Raise creates and dispatches an alert unless an unresolved alert with the
// same (alertType, identifier) key is younger than the dedup window.
// Returns nil when deduplicated.
func (m *AlertManager) Raise(alertType, identifier string, severity Severity, message string, details map[string]interface{}) *Alert {
	m.mu.Lock()

	now := m.now()
	key := alertType + ":" + identifier

	if prev, ok := m.latest[key]; ok && !prev.Resolved && now.Sub(prev.Timestamp) < dedupWindow {
		m.mu.Unlock()
		return nil
	}

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}

	alert := &Alert{
		ID:         uuid.NewString(),
		Severity:   severity,
		Type:       alertType,
		Identifier: identifier,
		Message:    message,
		Details:    details,
		Timestamp:  now,
		Channels:   names,
	}
	m.alerts[alert.ID] = alert
	m.latest[key] = alert
	m.gcLocked(now)

	snapshot := *alert
	m.mu.Unlock()

	m.dispatch(snapshot)
	return alert
}

// dispatch fans the alert out to every channel; failures are logged per
// channel and never abort the rest.
func (m *AlertManager) dispatch(alert Alert) {
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			log.Printf("alert delivery to %s failed (alert %s): %v", ch.Name(), alert.ID, err)
		}
	}
}

// Resolve marks an alert resolved; it then ages out after the retention
// window. Returns false for an unknown ID.
func (m *AlertManager) Resolve(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok || alert.Resolved {
		return ok
	}

	now := m.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	return true
}

// Active returns unresolved alerts, newest first not guaranteed.
func (m *AlertManager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	return out
}

// All returns every retained alert, resolved included.
func (m *AlertManager) All() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	return out
}

func (m *AlertManager) gcLocked(now time.Time) {
	for id, a := range m.alerts {
		if a.Resolved && a.ResolvedAt != nil && now.Sub(*a.ResolvedAt) > m.retention {
			delete(m.alerts, id)
			key := a.Type + ":" + a.Identifier
			if m.latest[key] == a {
				delete(m.latest, key)
			}
		}
	}
}
