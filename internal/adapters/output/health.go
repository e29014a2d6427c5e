package output

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/app"
)

// HealthStatus is the snapshot served on the health endpoint.
type HealthStatus struct {
	Healthy         bool    `json:"healthy"`
	Status          string  `json:"status"`
	ActiveBlocks    int64   `json:"active_blocks"`
	AlertQueueDepth int     `json:"alert_queue_depth"`
	QueueCapacity   int     `json:"queue_capacity"`
	Utilization     float64 `json:"utilization_percent"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Reason          string  `json:"reason,omitempty"`
}

// HealthChecker derives process health from the alert queue and the core
// counters. A saturated alert queue means notifications are being deferred
// faster than they drain, which is the first thing an operator needs to see.
type HealthChecker struct {
	blocker    *app.AutoBlocker
	dispatcher *app.AlertDispatcher
	startTime  time.Time

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastCheckMu   sync.RWMutex
	checkInterval time.Duration
}

// HealthCheckerConfig configures check caching.
type HealthCheckerConfig struct {
	CheckInterval time.Duration
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{CheckInterval: 5 * time.Second}
}

func NewHealthChecker(blocker *app.AutoBlocker, dispatcher *app.AlertDispatcher, config HealthCheckerConfig) *HealthChecker {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 5 * time.Second
	}
	return &HealthChecker{
		blocker:       blocker,
		dispatcher:    dispatcher,
		checkInterval: config.CheckInterval,
		startTime:     time.Now(),
	}
}

// Check returns the current health, recomputing at most once per interval.
func (h *HealthChecker) Check() HealthStatus {
	h.lastCheckMu.RLock()
	if time.Since(h.lastCheckTime) < h.checkInterval {
		cached := h.lastCheck
		h.lastCheckMu.RUnlock()
		return cached
	}
	h.lastCheckMu.RUnlock()

	status := h.performCheck()

	h.lastCheckMu.Lock()
	h.lastCheck = status
	h.lastCheckTime = time.Now()
	h.lastCheckMu.Unlock()

	return status
}

func (h *HealthChecker) performCheck() HealthStatus {
	status := HealthStatus{
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	if h.blocker != nil {
		status.ActiveBlocks = h.blocker.Metrics().ActiveBlocks
	}

	if h.dispatcher == nil {
		status.Healthy = false
		status.Status = "OFFLINE"
		status.Reason = "alert dispatcher not running"
		return status
	}

	status.AlertQueueDepth = h.dispatcher.QueueLength()
	status.QueueCapacity = h.dispatcher.QueueCapacity()
	if status.QueueCapacity > 0 {
		status.Utilization = float64(status.AlertQueueDepth) / float64(status.QueueCapacity) * 100
	}

	switch {
	case status.Utilization >= 95:
		status.Healthy = false
		status.Status = "SATURATED"
		status.Reason = "alert queue nearly full, deliveries are being deferred"
	case status.Utilization >= 80:
		status.Healthy = true
		status.Status = "DEGRADED"
		status.Reason = "alert queue utilization elevated"
	default:
		status.Healthy = true
		status.Status = "HEALTHY"
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
