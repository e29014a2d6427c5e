package domain

import "time"

// SignalName identifies an observable core transition.
type SignalName string

const (
	SignalWhitelistHit        SignalName = "whitelist-hit"
	SignalThresholdApproached SignalName = "threshold-approaching"
	SignalBlock               SignalName = "block"
	SignalBlockEscalated      SignalName = "block-escalated"
	SignalUnblock             SignalName = "unblock"
	SignalWhitelistAdd        SignalName = "whitelist-add"
	SignalWhitelistRemove     SignalName = "whitelist-remove"
	SignalRateLimited         SignalName = "rate-limited"
	SignalGrouped             SignalName = "grouped"
	SignalSent                SignalName = "sent"
)

// Signal is emitted synchronously relative to the state transition that
// caused it, before the triggering call returns. Subscribers observe but
// cannot alter the decision.
type Signal struct {
	Name    SignalName
	Time    time.Time
	Subject string
	Payload interface{}
}
