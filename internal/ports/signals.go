package ports

import "github.com/xoelrdgz/ipsentinel/internal/domain"

// SignalSubscriber receives core transition signals. Used by dashboards,
// audit sinks and the Prometheus adapter.
//
// OnSignal is called synchronously relative to the state transition that
// caused it, before the triggering call returns. Implementations should
// return quickly and must not attempt to alter the core's decision.
type SignalSubscriber interface {
	OnSignal(signal domain.Signal)
}
