// Package output exposes operational surfaces: the Prometheus exporter and
// the health endpoint.
package output

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// PrometheusMetrics publishes the core counters and per-signal breakdowns
// on a scrape endpoint. Counter values are read live from CoreMetrics;
// labeled series are fed through OnSignal.
type PrometheusMetrics struct {
	blocksTotal         prometheus.CounterFunc
	unblocksTotal       prometheus.CounterFunc
	activeBlocks        prometheus.GaugeFunc
	escalationsTotal    prometheus.CounterFunc
	enforcementFailures prometheus.CounterFunc
	reputationLookups   prometheus.CounterFunc
	reputationCacheHits prometheus.CounterFunc
	sourceErrors        prometheus.CounterFunc
	alertsSent          prometheus.CounterFunc
	channelFailures     prometheus.CounterFunc

	blocksByRule     *prometheus.CounterVec
	alertsBySeverity *prometheus.CounterVec
	signalsByName    *prometheus.CounterVec
	memoryUsage      prometheus.GaugeFunc

	server *http.Server
	mu     sync.Mutex
}

// MetricsConfig configures the scrape endpoint.
type MetricsConfig struct {
	Port   string
	Path   string
	Health http.Handler // Mounted at /healthz when set
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Port: ":9090",
		Path: "/metrics",
	}
}

func NewPrometheusMetrics(namespace string, core *domain.CoreMetrics) *PrometheusMetrics {
	if namespace == "" {
		namespace = "ipsentinel"
	}

	m := &PrometheusMetrics{}

	counterFunc := func(name, help string, read func(domain.CoreMetricsSnapshot) int64) prometheus.CounterFunc {
		return promauto.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			if core != nil {
				return float64(read(core.GetSnapshot()))
			}
			return 0
		})
	}

	m.blocksTotal = counterFunc("blocks_total", "Total subjects blocked",
		func(s domain.CoreMetricsSnapshot) int64 { return s.TotalBlocks })
	m.unblocksTotal = counterFunc("unblocks_total", "Total subjects unblocked",
		func(s domain.CoreMetricsSnapshot) int64 { return s.TotalUnblocks })
	m.escalationsTotal = counterFunc("escalations_total", "Blocks escalated to permanent",
		func(s domain.CoreMetricsSnapshot) int64 { return s.Escalations })
	m.enforcementFailures = counterFunc("enforcement_failures_total", "Failed enforcement backend calls",
		func(s domain.CoreMetricsSnapshot) int64 { return s.EnforcementFailures })
	m.reputationLookups = counterFunc("reputation_lookups_total", "Reputation verdicts requested",
		func(s domain.CoreMetricsSnapshot) int64 { return s.ReputationLookups })
	m.reputationCacheHits = counterFunc("reputation_cache_hits_total", "Reputation verdicts served from cache",
		func(s domain.CoreMetricsSnapshot) int64 { return s.ReputationCacheHits })
	m.sourceErrors = counterFunc("reputation_source_errors_total", "Reputation source failures and abstentions",
		func(s domain.CoreMetricsSnapshot) int64 { return s.SourceErrors })
	m.alertsSent = counterFunc("alerts_sent_total", "Alerts dispatched to channels",
		func(s domain.CoreMetricsSnapshot) int64 { return s.AlertsSent })
	m.channelFailures = counterFunc("channel_failures_total", "Failed channel deliveries",
		func(s domain.CoreMetricsSnapshot) int64 { return s.ChannelFailures })

	m.activeBlocks = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_blocks",
		Help:      "Subjects currently blocked",
	}, func() float64 {
		if core != nil {
			return float64(core.ActiveBlocks())
		}
		return 0
	})

	m.blocksByRule = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_by_rule_total",
		Help:      "Blocks by triggering rule",
	}, []string{"rule"})

	m.alertsBySeverity = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_by_severity_total",
		Help:      "Dispatched alerts by severity",
	}, []string{"severity"})

	m.signalsByName = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_total",
		Help:      "Core state transitions by signal name",
	}, []string{"signal"})

	m.memoryUsage = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current memory usage in bytes",
	}, func() float64 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		return float64(stats.Alloc)
	})

	return m
}

// OnSignal implements ports.SignalSubscriber, feeding the labeled series.
func (m *PrometheusMetrics) OnSignal(signal domain.Signal) {
	m.signalsByName.WithLabelValues(string(signal.Name)).Inc()

	switch signal.Name {
	case domain.SignalBlock, domain.SignalBlockEscalated:
		if entry, ok := signal.Payload.(*domain.BlockedEntry); ok {
			m.blocksByRule.WithLabelValues(entry.RuleID).Inc()
		}
	case domain.SignalSent:
		if alert, ok := signal.Payload.(*domain.Alert); ok {
			m.alertsBySeverity.WithLabelValues(string(alert.Severity)).Inc()
		}
	}
}

func (m *PrometheusMetrics) StartServer(config MetricsConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(config.Path, promhttp.Handler())
	if config.Health != nil {
		mux.Handle("/healthz", config.Health)
	}

	m.server = &http.Server{
		Addr:              config.Port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", config.Port).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

func (m *PrometheusMetrics) StopServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return m.server.Close()
	}
	return nil
}
