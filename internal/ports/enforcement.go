// Package ports defines the primary and secondary port interfaces following
// hexagonal architecture (ports and adapters pattern).
//
// This package contains interfaces that define the contract between the core
// decision logic and external infrastructure (enforcement backends,
// reputation sources, notification channels).
//
// Design Principles:
//   - Interfaces are small and focused (Interface Segregation Principle)
//   - Dependencies flow inward (core domain has no external dependencies)
//   - Implementations provided by adapters in internal/adapters/
package ports

import "context"

// EnforcementBackend applies blocks in an external system: a firewall tool,
// a shared blocklist store, a ban-list API.
//
// Multiple backends may be registered; each is invoked independently per
// block or unblock. Enforcement is an at-least-attempted side effect, never
// a precondition for the core decision: a backend failure is logged and
// counted but does not roll back the in-memory state transition.
//
// Thread Safety: Implementations MUST be safe for concurrent Ban/Unban calls.
type EnforcementBackend interface {
	// Ban restricts the subject's access. The context carries the bounded
	// per-call timeout configured at the adapter layer.
	Ban(ctx context.Context, subject string) error

	// Unban lifts a previously applied restriction. Called on manual unblock
	// and on expiry-sweep removal. Must tolerate subjects it never banned.
	Unban(ctx context.Context, subject string) error

	// Name returns the backend identifier for logging and metrics.
	Name() string
}
