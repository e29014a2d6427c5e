// Package notify provides the delivery channels the alert dispatcher fans
// out to. Each channel is independent; a failing channel degrades itself
// only.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// WebhookChannel posts alerts as JSON to a configured HTTP endpoint.
type WebhookChannel struct {
	client     *http.Client
	url        string
	authToken  string
	authHeader string
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	URL        string
	AuthToken  string        // Optional; sent via AuthHeader when set
	AuthHeader string        // Default: X-API-Key; "Authorization" sends a Bearer token
	Timeout    time.Duration // Default: 15s
}

// NewWebhookChannel creates a webhook delivery channel.
func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	authHeader := strings.TrimSpace(config.AuthHeader)
	if authHeader == "" {
		authHeader = "X-API-Key"
	}
	return &WebhookChannel{
		client:     &http.Client{Timeout: config.Timeout},
		url:        strings.TrimSpace(config.URL),
		authToken:  strings.TrimSpace(config.AuthToken),
		authHeader: authHeader,
	}
}

func (c *WebhookChannel) Deliver(ctx context.Context, alert *domain.Alert) error {
	body, err := alert.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing alert %s: %w", alert.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert %s: %w", alert.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}

	log.Debug().Str("alert", alert.ID).Int("status", resp.StatusCode).Msg("Webhook delivered")
	return nil
}

func (c *WebhookChannel) applyAuth(req *http.Request) {
	if c.authToken == "" {
		return
	}
	if strings.EqualFold(c.authHeader, "authorization") {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		return
	}
	req.Header.Set(c.authHeader, c.authToken)
}

func (c *WebhookChannel) Name() string {
	return "webhook"
}
