package ports

import (
	"context"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// NotificationChannel delivers an alert over one transport (email, chat
// webhook, paging API).
//
// Delivery is best-effort per channel: a configuration or credential error
// degrades that channel only and never blocks the others. There is no
// per-channel retry queue.
//
// Thread Safety: Implementations MUST be safe for concurrent Deliver calls.
type NotificationChannel interface {
	// Deliver sends the alert. The context carries the per-call timeout.
	Deliver(ctx context.Context, alert *domain.Alert) error

	// Name returns the channel identifier for logging and metrics.
	Name() string
}
