package domain

import "fmt"

// UnknownRuleError reports a reference to an unregistered rule ID. This is a
// programmer error, fatal to the call that made it.
type UnknownRuleError struct {
	RuleID string
}

func (e *UnknownRuleError) Error() string {
	return fmt.Sprintf("unknown block rule %q", e.RuleID)
}

// NotBlockedError reports an unblock attempt against a subject with no
// active block.
type NotBlockedError struct {
	Subject string
}

func (e *NotBlockedError) Error() string {
	return fmt.Sprintf("subject %q is not blocked", e.Subject)
}

// SourceUnavailableError reports a reputation source that could not answer
// (network or auth failure). Callers treat the source as abstaining.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("reputation source %q unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// RateLimitExceededError reports a reputation source whose local per-minute
// quota is exhausted. Callers treat the source as abstaining.
type RateLimitExceededError struct {
	Source string
	Limit  int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("reputation source %q rate limit exceeded (%d/min)", e.Source, e.Limit)
}
