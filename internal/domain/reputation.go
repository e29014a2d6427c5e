package domain

import "time"

// IPReputation is a transient reputation verdict for a subject. The
// IsMalicious boolean is owned by the source adapter that produced the
// verdict; the aggregator never re-derives it from Score.
type IPReputation struct {
	Subject      string     `json:"subject"`
	IsMalicious  bool       `json:"is_malicious"`
	Score        int        `json:"score"`
	ReportCount  int        `json:"report_count"`
	Categories   []string   `json:"categories,omitempty"`
	LastReported *time.Time `json:"last_reported,omitempty"`
	Source       string     `json:"source"`
}

// UnknownReputation is the default verdict when every source abstains.
func UnknownReputation(subject string) *IPReputation {
	return &IPReputation{
		Subject: subject,
		Score:   0,
		Source:  "none",
	}
}

// BlacklistReputation synthesizes the maximal-score verdict for a subject on
// the local blacklist.
func BlacklistReputation(subject string) *IPReputation {
	return &IPReputation{
		Subject:     subject,
		IsMalicious: true,
		Score:       100,
		Categories:  []string{"blacklist"},
		Source:      "blacklist",
	}
}

// ClampScore bounds a source-reported score to the 0-100 scale.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// GeoInfo is optional location context attached during event enrichment.
type GeoInfo struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}
