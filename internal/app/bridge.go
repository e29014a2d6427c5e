package app

import (
	"context"
	"fmt"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// AlertBridge subscribes to auto-blocker signals and turns the operator-
// relevant ones into alerts on the dispatcher. Delivery happens on its own
// goroutine so a slow channel never stalls the blocking path.
type AlertBridge struct {
	dispatcher *AlertDispatcher
	timeout    time.Duration
}

// NewAlertBridge creates a bridge feeding the given dispatcher.
func NewAlertBridge(dispatcher *AlertDispatcher) *AlertBridge {
	return &AlertBridge{dispatcher: dispatcher, timeout: 30 * time.Second}
}

// OnSignal implements ports.SignalSubscriber.
func (b *AlertBridge) OnSignal(signal domain.Signal) {
	alert := b.alertFor(signal)
	if alert == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		b.dispatcher.SendAlert(ctx, alert)
	}()
}

func (b *AlertBridge) alertFor(signal domain.Signal) *domain.Alert {
	switch signal.Name {
	case domain.SignalBlock:
		entry, ok := signal.Payload.(*domain.BlockedEntry)
		if !ok {
			return nil
		}
		alert := domain.NewAlert(domain.SeverityHigh,
			fmt.Sprintf("Subject blocked: %s", entry.Reason),
			fmt.Sprintf("%s blocked after %d infractions", entry.Subject, entry.InfractionCount),
			"auto-blocker")
		alert.AddMetadata("subject", entry.Subject)
		alert.AddMetadata("rule", entry.RuleID)
		if entry.ExpiresAt != nil {
			alert.AddMetadata("expires_at", entry.ExpiresAt.Format(time.RFC3339))
		}
		return alert

	case domain.SignalBlockEscalated:
		entry, ok := signal.Payload.(*domain.BlockedEntry)
		if !ok {
			return nil
		}
		alert := domain.NewAlert(domain.SeverityCritical,
			"Block escalated to permanent",
			fmt.Sprintf("%s reoffended while blocked and is now blocked permanently", entry.Subject),
			"auto-blocker")
		alert.AddMetadata("subject", entry.Subject)
		alert.AddMetadata("rule", entry.RuleID)
		return alert

	case domain.SignalUnblock:
		alert := domain.NewAlert(domain.SeverityInfo,
			"Subject unblocked",
			fmt.Sprintf("%s is no longer blocked", signal.Subject),
			"auto-blocker")
		alert.AddMetadata("subject", signal.Subject)
		if payload, ok := signal.Payload.(map[string]interface{}); ok {
			if reason, ok := payload["reason"].(string); ok {
				alert.AddMetadata("reason", reason)
			}
		}
		return alert
	}
	return nil
}
