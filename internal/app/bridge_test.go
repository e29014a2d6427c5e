package app

import (
	"testing"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
	"github.com/xoelrdgz/ipsentinel/internal/ports"
)

func waitForDeliveries(t *testing.T, channel *mockChannel, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if channel.calls.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d deliveries, got %d", want, channel.calls.Load())
}

func TestAlertBridge_BlockSignalBecomesAlert(t *testing.T) {
	channel := &mockChannel{name: "webhook"}
	dispatcher := NewAlertDispatcher(DispatcherConfig{}, []ports.NotificationChannel{channel}, domain.NewCoreMetrics(), nil)
	sub := &recordingSubscriber{}
	dispatcher.AddSubscriber(sub)
	bridge := NewAlertBridge(dispatcher)

	expires := time.Now().Add(5 * time.Minute)
	bridge.OnSignal(domain.Signal{
		Name:    domain.SignalBlock,
		Subject: "203.0.113.1",
		Payload: &domain.BlockedEntry{
			Subject:         "203.0.113.1",
			Reason:          "repeated login failures",
			RuleID:          "brute-force",
			InfractionCount: 5,
			ExpiresAt:       &expires,
		},
	})

	waitForDeliveries(t, channel, 1)

	sent := sub.byName(domain.SignalSent)
	if len(sent) != 1 {
		t.Fatalf("Expected 1 sent signal, got %d", len(sent))
	}
	alert := sent[0].Payload.(*domain.Alert)
	if alert.Severity != domain.SeverityHigh {
		t.Errorf("Block alerts should be high severity, got %s", alert.Severity)
	}
	if alert.Metadata["subject"] != "203.0.113.1" || alert.Metadata["rule"] != "brute-force" {
		t.Errorf("Unexpected metadata: %+v", alert.Metadata)
	}
}

func TestAlertBridge_EscalationIsCritical(t *testing.T) {
	channel := &mockChannel{name: "webhook"}
	dispatcher := NewAlertDispatcher(DispatcherConfig{}, []ports.NotificationChannel{channel}, domain.NewCoreMetrics(), nil)
	sub := &recordingSubscriber{}
	dispatcher.AddSubscriber(sub)
	bridge := NewAlertBridge(dispatcher)

	bridge.OnSignal(domain.Signal{
		Name:    domain.SignalBlockEscalated,
		Subject: "203.0.113.2",
		Payload: &domain.BlockedEntry{Subject: "203.0.113.2", RuleID: "brute-force"},
	})

	waitForDeliveries(t, channel, 1)

	alert := sub.byName(domain.SignalSent)[0].Payload.(*domain.Alert)
	if alert.Severity != domain.SeverityCritical {
		t.Errorf("Escalation alerts should be critical, got %s", alert.Severity)
	}
}

func TestAlertBridge_IgnoresNonAlertSignals(t *testing.T) {
	channel := &mockChannel{name: "webhook"}
	dispatcher := NewAlertDispatcher(DispatcherConfig{}, []ports.NotificationChannel{channel}, domain.NewCoreMetrics(), nil)
	bridge := NewAlertBridge(dispatcher)

	for _, name := range []domain.SignalName{
		domain.SignalWhitelistHit,
		domain.SignalThresholdApproached,
		domain.SignalWhitelistAdd,
		domain.SignalWhitelistRemove,
	} {
		bridge.OnSignal(domain.Signal{Name: name, Subject: "10.0.0.1"})
	}

	time.Sleep(50 * time.Millisecond)
	if channel.calls.Load() != 0 {
		t.Errorf("Housekeeping signals must not produce alerts, got %d deliveries", channel.calls.Load())
	}
}
