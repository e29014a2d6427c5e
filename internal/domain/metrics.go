package domain

import (
	"sync/atomic"
	"time"
)

// CoreMetrics tracks counters for all three core components. A full backend
// outage degrades to "tracked but not enforced / not notified"; these
// counters are how that surfaces.
type CoreMetrics struct {
	totalBlocks         atomic.Int64
	totalUnblocks       atomic.Int64
	activeBlocks        atomic.Int64
	escalations         atomic.Int64
	whitelistHits       atomic.Int64
	enforcementFailures atomic.Int64

	reputationLookups   atomic.Int64
	reputationCacheHits atomic.Int64
	sourceErrors        atomic.Int64

	alertsSent        atomic.Int64
	alertsGrouped     atomic.Int64
	alertsRateLimited atomic.Int64
	channelFailures   atomic.Int64

	startTime time.Time
}

func NewCoreMetrics() *CoreMetrics {
	return &CoreMetrics{startTime: time.Now()}
}

func (m *CoreMetrics) IncrementBlocks() {
	m.totalBlocks.Add(1)
	m.activeBlocks.Add(1)
}

func (m *CoreMetrics) IncrementUnblocks() {
	m.totalUnblocks.Add(1)
	m.activeBlocks.Add(-1)
}

func (m *CoreMetrics) IncrementEscalations()         { m.escalations.Add(1) }
func (m *CoreMetrics) IncrementWhitelistHits()       { m.whitelistHits.Add(1) }
func (m *CoreMetrics) IncrementEnforcementFailures() { m.enforcementFailures.Add(1) }
func (m *CoreMetrics) IncrementReputationLookups()   { m.reputationLookups.Add(1) }
func (m *CoreMetrics) IncrementReputationCacheHits() { m.reputationCacheHits.Add(1) }
func (m *CoreMetrics) IncrementSourceErrors()        { m.sourceErrors.Add(1) }
func (m *CoreMetrics) IncrementAlertsSent()          { m.alertsSent.Add(1) }
func (m *CoreMetrics) IncrementAlertsGrouped()       { m.alertsGrouped.Add(1) }
func (m *CoreMetrics) IncrementAlertsRateLimited()   { m.alertsRateLimited.Add(1) }
func (m *CoreMetrics) IncrementChannelFailures()     { m.channelFailures.Add(1) }

func (m *CoreMetrics) ActiveBlocks() int64 { return m.activeBlocks.Load() }

type CoreMetricsSnapshot struct {
	TotalBlocks         int64
	TotalUnblocks       int64
	ActiveBlocks        int64
	Escalations         int64
	WhitelistHits       int64
	EnforcementFailures int64
	ReputationLookups   int64
	ReputationCacheHits int64
	SourceErrors        int64
	AlertsSent          int64
	AlertsGrouped       int64
	AlertsRateLimited   int64
	ChannelFailures     int64
	Uptime              time.Duration
}

func (m *CoreMetrics) GetSnapshot() CoreMetricsSnapshot {
	return CoreMetricsSnapshot{
		TotalBlocks:         m.totalBlocks.Load(),
		TotalUnblocks:       m.totalUnblocks.Load(),
		ActiveBlocks:        m.activeBlocks.Load(),
		Escalations:         m.escalations.Load(),
		WhitelistHits:       m.whitelistHits.Load(),
		EnforcementFailures: m.enforcementFailures.Load(),
		ReputationLookups:   m.reputationLookups.Load(),
		ReputationCacheHits: m.reputationCacheHits.Load(),
		SourceErrors:        m.sourceErrors.Load(),
		AlertsSent:          m.alertsSent.Load(),
		AlertsGrouped:       m.alertsGrouped.Load(),
		AlertsRateLimited:   m.alertsRateLimited.Load(),
		ChannelFailures:     m.channelFailures.Load(),
		Uptime:              time.Since(m.startTime),
	}
}
