package domain

import "time"

// SubjectState is the per-subject position in the blocking state machine.
// Escalation from temporary to permanent is one-way; permanent clears only
// through a manual unblock.
type SubjectState string

const (
	StateClean            SubjectState = "clean"
	StateWatched          SubjectState = "watched"
	StateBlockedTemporary SubjectState = "blocked-temporary"
	StateBlockedPermanent SubjectState = "blocked-permanent"
)

// BlockedEntry records an active block. ExpiresAt == nil means permanent.
// The entry mutates only by escalation (ExpiresAt nulled) and is removed on
// unblock, manual or expiry.
type BlockedEntry struct {
	Subject         string     `json:"subject"`
	Reason          string     `json:"reason"`
	BlockedAt       time.Time  `json:"blocked_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	RuleID          string     `json:"rule_id"`
	InfractionCount int        `json:"infraction_count"`
}

func (e *BlockedEntry) Permanent() bool {
	return e.ExpiresAt == nil
}

// Expired reports whether a temporary block has run out. Permanent blocks
// never expire.
func (e *BlockedEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

func (e *BlockedEntry) State() SubjectState {
	if e.Permanent() {
		return StateBlockedPermanent
	}
	return StateBlockedTemporary
}
