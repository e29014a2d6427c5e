package domain

import (
	"fmt"
	"time"
)

// BlockAction is the enforcement tier a rule escalates to when crossed.
type BlockAction string

const (
	ActionRateLimit    BlockAction = "rate-limit"
	ActionTemporaryBan BlockAction = "temporary-ban"
	ActionPermanentBan BlockAction = "permanent-ban"
)

// BlockRule describes a sliding-window infraction threshold. Rules are
// immutable after startup and identified by ID.
//
// A BanDuration of zero or less denotes a permanent block, as does the
// permanent-ban action.
type BlockRule struct {
	ID          string        `json:"id" mapstructure:"id"`
	Name        string        `json:"name" mapstructure:"name"`
	Threshold   int           `json:"threshold" mapstructure:"threshold"`
	Window      time.Duration `json:"window" mapstructure:"window"`
	BanDuration time.Duration `json:"ban_duration" mapstructure:"ban_duration"`
	Action      BlockAction   `json:"action" mapstructure:"action"`
	Severity    Severity      `json:"severity" mapstructure:"severity"`
}

// Permanent reports whether a block created by this rule never expires.
func (r BlockRule) Permanent() bool {
	return r.Action == ActionPermanentBan || r.BanDuration <= 0
}

func (r BlockRule) Validate() error {
	if r.ID == "" {
		return &RuleValidationError{Field: "id", Reason: "must not be empty"}
	}
	if r.Threshold < 1 {
		return &RuleValidationError{Field: "threshold", Rule: r.ID, Reason: "must be positive"}
	}
	if r.Window <= 0 {
		return &RuleValidationError{Field: "window", Rule: r.ID, Reason: "must be positive"}
	}
	switch r.Action {
	case ActionRateLimit, ActionTemporaryBan, ActionPermanentBan:
	default:
		return &RuleValidationError{Field: "action", Rule: r.ID, Reason: fmt.Sprintf("unknown action %q", r.Action)}
	}
	return nil
}

type RuleValidationError struct {
	Rule   string
	Field  string
	Reason string
}

func (e *RuleValidationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("rule validation error: %s - %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("rule validation error: %s.%s - %s", e.Rule, e.Field, e.Reason)
}
