package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

const pagerDutyEndpoint = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyChannel delivers alerts through the PagerDuty Events API v2.
type PagerDutyChannel struct {
	client     *http.Client
	endpoint   string
	routingKey string
}

// PagerDutyConfig configures the PagerDuty channel.
type PagerDutyConfig struct {
	RoutingKey string
	Timeout    time.Duration // Default: 15s
	Endpoint   string        // Override for tests
}

type pagerDutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key,omitempty"`
	Payload     pagerDutyPayload `json:"payload"`
}

type pagerDutyPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	CustomDetails map[string]string `json:"custom_details,omitempty"`
}

// NewPagerDutyChannel creates a PagerDuty delivery channel.
func NewPagerDutyChannel(config PagerDutyConfig) *PagerDutyChannel {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = pagerDutyEndpoint
	}
	return &PagerDutyChannel{
		client:     &http.Client{Timeout: config.Timeout},
		endpoint:   endpoint,
		routingKey: config.RoutingKey,
	}
}

func (c *PagerDutyChannel) Deliver(ctx context.Context, alert *domain.Alert) error {
	event := pagerDutyEvent{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    alert.ID,
		Payload: pagerDutyPayload{
			Summary:       alert.Title,
			Source:        alert.Source,
			Severity:      mapSeverity(alert.Severity),
			Timestamp:     alert.Timestamp.Format(time.RFC3339),
			CustomDetails: alert.Metadata,
		},
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing alert %s: %w", alert.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert %s to pagerduty: %w", alert.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("pagerduty returned %s", resp.Status)
	}
	return nil
}

// mapSeverity translates alert severities onto the four levels the Events
// API accepts.
func mapSeverity(severity domain.Severity) string {
	switch severity {
	case domain.SeverityCritical:
		return "critical"
	case domain.SeverityHigh:
		return "error"
	case domain.SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}

func (c *PagerDutyChannel) Name() string {
	return "pagerduty"
}
