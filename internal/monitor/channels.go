package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// LogChannel writes alerts to the process log. Always configured; it is
// the floor for alert visibility when no external channel is set up.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(alert Alert) error {
	log.Printf("ALERT [%s] %s %s: %s", alert.Severity, alert.Type, alert.Identifier, alert.Message)
	return nil
}

// WebhookChannel POSTs the alert as JSON to a configured URL (pager or
// generic alerting endpoint).
type WebhookChannel struct {
	URL    string
	client *http.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		URL:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	resp, err := w.client.Post(w.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// EmailChannel records the intent to mail an alert. Actual delivery belongs
// to the external notification service consuming the event stream; this
// keeps the recipient visible in the process log until that lands.
type EmailChannel struct {
	To string
}

func (e EmailChannel) Name() string { return "email" }

func (e EmailChannel) Send(alert Alert) error {
	log.Printf("EMAIL to %s: [%s] %s %s: %s", e.To, alert.Severity, alert.Type, alert.Identifier, alert.Message)
	return nil
}

// SlackChannel posts a formatted message to a Slack incoming webhook.
type SlackChannel struct {
	WebhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(alert Alert) error {
	icon := ":warning:"
	if alert.Severity == SeverityCritical {
		icon = ":rotating_light:"
	}

	payload := map[string]string{
		"text": fmt.Sprintf("%s *%s* (%s)\n%s", icon, alert.Type, alert.Severity, alert.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}
