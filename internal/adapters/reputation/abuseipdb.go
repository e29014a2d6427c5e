// Package reputation provides external threat-intelligence sources and the
// GeoIP locator consumed by the reputation service. Sources abstain on
// failure; the service treats them as prioritized, best-effort oracles.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

const abuseIPDBEndpoint = "https://api.abuseipdb.com/api/v2/check"

// AbuseIPDBSource queries the AbuseIPDB check endpoint for a subject's
// abuse confidence score.
type AbuseIPDBSource struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	maxAge    int
	threshold int
}

// AbuseIPDBConfig configures the AbuseIPDB source.
type AbuseIPDBConfig struct {
	APIKey       string
	MaxAgeDays   int           // Report lookback window (default: 90)
	Threshold    int           // Confidence score considered malicious (default: 50)
	Timeout      time.Duration // HTTP client timeout (default: 10s)
	EndpointBase string        // Override for tests
}

type abuseIPDBResponse struct {
	Data struct {
		IPAddress            string    `json:"ipAddress"`
		AbuseConfidenceScore int       `json:"abuseConfidenceScore"`
		TotalReports         int       `json:"totalReports"`
		LastReportedAt       time.Time `json:"lastReportedAt"`
	} `json:"data"`
}

// NewAbuseIPDBSource creates an AbuseIPDB-backed reputation source.
func NewAbuseIPDBSource(config AbuseIPDBConfig) *AbuseIPDBSource {
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = 90
	}
	if config.Threshold <= 0 {
		config.Threshold = 50
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	endpoint := config.EndpointBase
	if endpoint == "" {
		endpoint = abuseIPDBEndpoint
	}
	return &AbuseIPDBSource{
		client:    &http.Client{Timeout: config.Timeout},
		endpoint:  endpoint,
		apiKey:    config.APIKey,
		maxAge:    config.MaxAgeDays,
		threshold: config.Threshold,
	}
}

func (s *AbuseIPDBSource) Lookup(ctx context.Context, subject string) (*domain.IPReputation, error) {
	query := url.Values{}
	query.Set("ipAddress", subject)
	query.Set("maxAgeInDays", fmt.Sprintf("%d", s.maxAge))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.SourceUnavailableError{Source: s.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &domain.SourceUnavailableError{
			Source: s.Name(),
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var parsed abuseIPDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &domain.SourceUnavailableError{Source: s.Name(), Err: err}
	}

	rep := &domain.IPReputation{
		Subject:     subject,
		IsMalicious: parsed.Data.AbuseConfidenceScore >= s.threshold,
		Score:       domain.ClampScore(parsed.Data.AbuseConfidenceScore),
		ReportCount: parsed.Data.TotalReports,
		Source:      s.Name(),
	}
	if !parsed.Data.LastReportedAt.IsZero() {
		last := parsed.Data.LastReportedAt
		rep.LastReported = &last
	}
	return rep, nil
}

func (s *AbuseIPDBSource) Name() string {
	return "abuseipdb"
}
