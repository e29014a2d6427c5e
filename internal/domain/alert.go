package domain

import (
	crypto_rand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Alert is a discrete security event awaiting delivery. It is created by any
// producer, consumed once by the dispatcher, and retained only for the
// de-duplication window afterwards.
type Alert struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Severity    Severity          `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Source      string            `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func NewAlert(severity Severity, title, description, source string) *Alert {
	return &Alert{
		ID:          generateAlertID(),
		Timestamp:   time.Now().UTC(),
		Severity:    severity,
		Title:       title,
		Description: description,
		Source:      source,
		Metadata:    make(map[string]string),
	}
}

func (a *Alert) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

func (a *Alert) AddMetadata(key, value string) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
}

var alertCounter atomic.Uint64

func generateAlertID() string {
	var randBytes [4]byte
	if _, err := crypto_rand.Read(randBytes[:]); err != nil {
		return fmt.Sprintf("%s-%d-00000000",
			time.Now().UTC().Format("20060102150405"),
			alertCounter.Add(1))
	}
	return fmt.Sprintf("%s-%d-%08x",
		time.Now().UTC().Format("20060102150405"),
		alertCounter.Add(1),
		binary.BigEndian.Uint32(randBytes[:]))
}

// SeverityColor returns the ANSI color hint used by channel formatters.
// Cosmetic only; never part of the delivery contract.
func (a *Alert) SeverityColor() string {
	switch a.Severity {
	case SeverityCritical:
		return "\033[31m"
	case SeverityHigh:
		return "\033[91m"
	case SeverityMedium:
		return "\033[33m"
	case SeverityLow:
		return "\033[36m"
	default:
		return "\033[0m"
	}
}

// SeverityPriority maps severity to a numeric priority hint, highest first.
func (a *Alert) SeverityPriority() int {
	switch a.Severity {
	case SeverityCritical:
		return 1
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 4
	default:
		return 5
	}
}
