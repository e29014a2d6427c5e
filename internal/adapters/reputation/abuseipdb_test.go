package reputation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

func TestAbuseIPDBSource_MaliciousVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("Key"); key != "api-key" {
			t.Errorf("Expected Key header, got %q", key)
		}
		if ip := r.URL.Query().Get("ipAddress"); ip != "203.0.113.5" {
			t.Errorf("Expected ipAddress query param, got %q", ip)
		}
		if age := r.URL.Query().Get("maxAgeInDays"); age != "90" {
			t.Errorf("Expected maxAgeInDays=90, got %q", age)
		}
		fmt.Fprint(w, `{"data":{"ipAddress":"203.0.113.5","abuseConfidenceScore":87,"totalReports":42,"lastReportedAt":"2025-08-30T12:00:00Z"}}`)
	}))
	defer server.Close()

	source := NewAbuseIPDBSource(AbuseIPDBConfig{APIKey: "api-key", EndpointBase: server.URL})

	rep, err := source.Lookup(context.Background(), "203.0.113.5")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !rep.IsMalicious || rep.Score != 87 || rep.ReportCount != 42 {
		t.Errorf("Unexpected reputation: %+v", rep)
	}
	if rep.Source != "abuseipdb" {
		t.Errorf("Expected source abuseipdb, got %q", rep.Source)
	}
	if rep.LastReported == nil {
		t.Error("Expected last reported timestamp")
	}
}

func TestAbuseIPDBSource_BelowThresholdIsClean(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"ipAddress":"198.51.100.9","abuseConfidenceScore":12,"totalReports":1}}`)
	}))
	defer server.Close()

	source := NewAbuseIPDBSource(AbuseIPDBConfig{APIKey: "api-key", EndpointBase: server.URL, Threshold: 50})

	rep, err := source.Lookup(context.Background(), "198.51.100.9")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rep.IsMalicious {
		t.Errorf("Score 12 should be below the threshold, got %+v", rep)
	}
	if rep.LastReported != nil {
		t.Error("Zero lastReportedAt should map to nil")
	}
}

func TestAbuseIPDBSource_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	source := NewAbuseIPDBSource(AbuseIPDBConfig{APIKey: "api-key", EndpointBase: server.URL})

	_, err := source.Lookup(context.Background(), "203.0.113.5")
	var unavailable *domain.SourceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Expected SourceUnavailableError, got %v", err)
	}
	if unavailable.Source != "abuseipdb" {
		t.Errorf("Expected source abuseipdb, got %q", unavailable.Source)
	}
}
