package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

func TestPagerDutyChannel_Deliver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event pagerDutyEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("Decoding body: %v", err)
		}
		if event.RoutingKey != "rk-123" {
			t.Errorf("Expected routing key rk-123, got %q", event.RoutingKey)
		}
		if event.EventAction != "trigger" {
			t.Errorf("Expected trigger, got %q", event.EventAction)
		}
		if event.Payload.Severity != "error" {
			t.Errorf("High severity should map to error, got %q", event.Payload.Severity)
		}
		if event.Payload.Summary != "ssh brute force" {
			t.Errorf("Unexpected summary %q", event.Payload.Summary)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	channel := NewPagerDutyChannel(PagerDutyConfig{RoutingKey: "rk-123", Endpoint: server.URL})
	alert := domain.NewAlert(domain.SeverityHigh, "ssh brute force", "5 failures in 60s", "auto-blocker")

	if err := channel.Deliver(context.Background(), alert); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestPagerDutyChannel_RejectionFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	channel := NewPagerDutyChannel(PagerDutyConfig{RoutingKey: "rk-123", Endpoint: server.URL})
	alert := domain.NewAlert(domain.SeverityLow, "noise", "", "test")

	if err := channel.Deliver(context.Background(), alert); err == nil {
		t.Error("Expected an error for a rejected event")
	}
}

func TestMapSeverity(t *testing.T) {
	tests := []struct {
		in   domain.Severity
		want string
	}{
		{domain.SeverityCritical, "critical"},
		{domain.SeverityHigh, "error"},
		{domain.SeverityMedium, "warning"},
		{domain.SeverityLow, "info"},
		{domain.SeverityInfo, "info"},
	}
	for _, tt := range tests {
		if got := mapSeverity(tt.in); got != tt.want {
			t.Errorf("mapSeverity(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
