package domain

import "time"

// SecurityEvent is the producer-side payload handed to the core: a failed
// login, an abuse report, a suspicious request. Subject is typically a
// source IP.
type SecurityEvent struct {
	Subject   string                 `json:"subject"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy. Enrichment operates on copies; the caller's
// event is never mutated.
func (e *SecurityEvent) Clone() *SecurityEvent {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// EnrichedEvent pairs a reputation verdict with the event copy it was merged
// into.
type EnrichedEvent struct {
	Reputation *IPReputation  `json:"reputation"`
	Event      *SecurityEvent `json:"event"`
}
