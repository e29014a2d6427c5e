package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xoelrdgz/ipsentinel/internal/adapters/enforcement"
	"github.com/xoelrdgz/ipsentinel/internal/adapters/input"
	"github.com/xoelrdgz/ipsentinel/internal/adapters/notify"
	"github.com/xoelrdgz/ipsentinel/internal/adapters/output"
	"github.com/xoelrdgz/ipsentinel/internal/adapters/reputation"
	"github.com/xoelrdgz/ipsentinel/internal/app"
	"github.com/xoelrdgz/ipsentinel/internal/domain"
	"github.com/xoelrdgz/ipsentinel/internal/ports"
)

var (
	cfgFile     string
	authLogPath string

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ipsentinel",
	Short: "Security-operations automation core",
	Long: `IPSentinel automates the response half of security operations:
it counts infractions per subject against sliding-window rules, blocks
offenders through pluggable enforcement backends, enriches events with
threat-intelligence verdicts, and dispatches rate-limited, de-duplicated
alerts across multiple notification channels.

Components:
  - Auto-Blocker: threshold blocking with temporary-to-permanent escalation
  - Reputation: cached, rate-limited lookups against prioritized sources
  - Dispatcher: grouped, rate-limited alert fan-out`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the automation core",
	Long: `Start the auto-blocker, reputation service and alert dispatcher
with the configured backends, sources and channels.

Examples:
  ipsentinel run
  ipsentinel run --config /etc/ipsentinel/config.yaml
  ipsentinel run --authlog /var/log/auth.log`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("IPSentinel %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	runCmd.Flags().StringVar(&authLogPath, "authlog", "", "auth log file to follow for failed logins")
	runCmd.Flags().String("metrics-port", ":9090", "metrics listen address")

	viper.BindPFlag("producer.authlog.path", runCmd.Flags().Lookup("authlog"))
	viper.BindPFlag("metrics.port", runCmd.Flags().Lookup("metrics-port"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/ipsentinel")
	}

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("sweep.interval", "60s")
	viper.SetDefault("enforcement.timeout", "10s")
	viper.SetDefault("enforcement.command.enabled", false)
	viper.SetDefault("enforcement.redis.enabled", false)
	viper.SetDefault("enforcement.redis.addr", "localhost:6379")
	viper.SetDefault("enforcement.redis.db", 0)
	viper.SetDefault("enforcement.redis.set", "ipsentinel:blocked")
	viper.SetDefault("enforcement.redis.channel", "ipsentinel:events")
	viper.SetDefault("enforcement.amqp.enabled", false)
	viper.SetDefault("enforcement.amqp.exchange", "ipsentinel.blocks")
	viper.SetDefault("reputation.cache_ttl", "30m")
	viper.SetDefault("reputation.rate_limit_per_minute", 30)
	viper.SetDefault("reputation.abuseipdb.enabled", false)
	viper.SetDefault("reputation.abuseipdb.max_age_days", 90)
	viper.SetDefault("reputation.feed.enabled", false)
	viper.SetDefault("reputation.feed.path", "./configs/threat_feed.txt")
	viper.SetDefault("reputation.geoip.enabled", false)
	viper.SetDefault("alerts.rate_limit_per_minute", 30)
	viper.SetDefault("alerts.grouping_window", "5m")
	viper.SetDefault("alerts.queue_interval", "30s")
	viper.SetDefault("alerts.webhook.enabled", false)
	viper.SetDefault("alerts.webhook.auth_header", "X-API-Key")
	viper.SetDefault("alerts.smtp.enabled", false)
	viper.SetDefault("alerts.pager.enabled", false)
	viper.SetDefault("alerts.jsonlog.enabled", true)
	viper.SetDefault("alerts.jsonlog.path", "./alerts.jsonl")
	viper.SetDefault("producer.authlog.enabled", false)
	viper.SetDefault("producer.authlog.rule", "ssh-brute-force")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", ":9090")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Msg("Error reading config file")
		}
	}

	viper.SetEnvPrefix("IPSENTINEL")
	viper.AutomaticEnv()
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch viper.GetString("logging.level") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}

// loadRules reads the rule list from config, falling back to a single SSH
// brute-force rule so a bare install still does something useful.
func loadRules() ([]domain.BlockRule, error) {
	var rules []domain.BlockRule
	if err := viper.UnmarshalKey("rules", &rules); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(rules) == 0 {
		rules = []domain.BlockRule{{
			ID:          "ssh-brute-force",
			Name:        "repeated SSH login failures",
			Threshold:   5,
			Window:      time.Minute,
			BanDuration: 15 * time.Minute,
			Action:      domain.ActionTemporaryBan,
			Severity:    domain.SeverityHigh,
		}}
		log.Info().Msg("No rules configured, using default SSH brute-force rule")
	}
	return rules, nil
}

func buildBackends(ctx context.Context) ([]ports.EnforcementBackend, func()) {
	var backends []ports.EnforcementBackend
	var closers []func()

	if viper.GetBool("enforcement.command.enabled") {
		backend, err := enforcement.NewCommandBackend(enforcement.CommandBackendConfig{
			BanCommand:   viper.GetString("enforcement.command.ban_cmd"),
			UnbanCommand: viper.GetString("enforcement.command.unban_cmd"),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Command backend disabled")
		} else {
			backends = append(backends, backend)
		}
	}

	if viper.GetBool("enforcement.redis.enabled") {
		backend, err := enforcement.NewRedisBackend(ctx, enforcement.RedisBackendConfig{
			Addr:     viper.GetString("enforcement.redis.addr"),
			Password: viper.GetString("enforcement.redis.password"),
			DB:       viper.GetInt("enforcement.redis.db"),
			SetKey:   viper.GetString("enforcement.redis.set"),
			Channel:  viper.GetString("enforcement.redis.channel"),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Redis backend disabled")
		} else {
			backends = append(backends, backend)
			closers = append(closers, func() { backend.Close() })
		}
	}

	if viper.GetBool("enforcement.amqp.enabled") {
		backend, err := enforcement.NewAMQPBackend(enforcement.AMQPBackendConfig{
			URL:      viper.GetString("enforcement.amqp.url"),
			Exchange: viper.GetString("enforcement.amqp.exchange"),
		})
		if err != nil {
			log.Warn().Err(err).Msg("AMQP backend disabled")
		} else {
			backends = append(backends, backend)
			closers = append(closers, func() { backend.Close() })
		}
	}

	return backends, func() {
		for _, c := range closers {
			c()
		}
	}
}

func buildSources(ctx context.Context) []ports.ReputationSource {
	var sources []ports.ReputationSource

	// The local feed is the cheapest oracle, so it gets first priority.
	if viper.GetBool("reputation.feed.enabled") {
		feed := reputation.NewFeedFileSource(viper.GetString("reputation.feed.path"))
		if err := feed.Reload(ctx); err != nil {
			log.Warn().Err(err).Msg("Threat feed load failed")
		}
		sources = append(sources, feed)
	}

	if viper.GetBool("reputation.abuseipdb.enabled") {
		sources = append(sources, reputation.NewAbuseIPDBSource(reputation.AbuseIPDBConfig{
			APIKey:       viper.GetString("reputation.abuseipdb.api_key"),
			MaxAgeDays:   viper.GetInt("reputation.abuseipdb.max_age_days"),
			EndpointBase: viper.GetString("reputation.abuseipdb.endpoint"),
		}))
	}

	return sources
}

func buildChannels() ([]ports.NotificationChannel, func()) {
	var channels []ports.NotificationChannel
	var closers []func()

	if viper.GetBool("alerts.webhook.enabled") {
		channels = append(channels, notify.NewWebhookChannel(notify.WebhookConfig{
			URL:        viper.GetString("alerts.webhook.url"),
			AuthToken:  viper.GetString("alerts.webhook.auth_token"),
			AuthHeader: viper.GetString("alerts.webhook.auth_header"),
		}))
	}

	if viper.GetBool("alerts.smtp.enabled") {
		channels = append(channels, notify.NewSMTPChannel(notify.SMTPConfig{
			Host:       viper.GetString("alerts.smtp.host"),
			Port:       viper.GetInt("alerts.smtp.port"),
			Username:   viper.GetString("alerts.smtp.username"),
			Password:   viper.GetString("alerts.smtp.password"),
			From:       viper.GetString("alerts.smtp.from"),
			Recipients: viper.GetStringSlice("alerts.smtp.to"),
		}))
	}

	if viper.GetBool("alerts.pager.enabled") {
		channels = append(channels, notify.NewPagerDutyChannel(notify.PagerDutyConfig{
			RoutingKey: viper.GetString("alerts.pager.routing_key"),
			Endpoint:   viper.GetString("alerts.pager.endpoint"),
		}))
	}

	if viper.GetBool("alerts.jsonlog.enabled") {
		jsonLog, err := notify.NewJSONLogChannel(notify.JSONLogConfig{
			FilePath: viper.GetString("alerts.jsonlog.path"),
		})
		if err != nil {
			log.Warn().Err(err).Msg("JSON alert log disabled")
		} else {
			channels = append(channels, jsonLog)
			closers = append(closers, func() { jsonLog.Close() })
		}
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return channels, cleanup
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := domain.NewCoreMetrics()

	rules, err := loadRules()
	if err != nil {
		return err
	}

	sources := buildSources(ctx)
	repService := app.NewReputationService(app.ReputationServiceConfig{
		CacheTTL:      viper.GetDuration("reputation.cache_ttl"),
		RatePerMinute: viper.GetInt("reputation.rate_limit_per_minute"),
	}, sources, metrics, nil)

	var geo ports.GeoLocator
	if viper.GetBool("reputation.geoip.enabled") {
		locator, err := reputation.NewGeoIPLocator(viper.GetString("reputation.geoip.db_path"))
		if err != nil {
			log.Warn().Err(err).Msg("GeoIP lookups disabled")
		} else {
			geo = locator
			defer locator.Close()
		}
	}
	backends, closeBackends := buildBackends(ctx)
	defer closeBackends()
	blocker, err := app.NewAutoBlocker(app.AutoBlockerConfig{
		Rules:              rules,
		Whitelist:          viper.GetStringSlice("whitelist"),
		SweepInterval:      viper.GetDuration("sweep.interval"),
		EnforcementTimeout: viper.GetDuration("enforcement.timeout"),
	}, backends, repService, metrics, nil)
	if err != nil {
		return err
	}

	channels, closeChannels := buildChannels()
	defer closeChannels()
	dispatcher := app.NewAlertDispatcher(app.DispatcherConfig{
		RateLimitPerMinute: viper.GetInt("alerts.rate_limit_per_minute"),
		GroupingWindow:     viper.GetDuration("alerts.grouping_window"),
	}, channels, metrics, nil)

	bridge := app.NewAlertBridge(dispatcher)
	blocker.AddSubscriber(bridge)

	if viper.GetBool("metrics.enabled") {
		promMetrics := output.NewPrometheusMetrics("ipsentinel", metrics)
		blocker.AddSubscriber(promMetrics)
		dispatcher.AddSubscriber(promMetrics)

		health := output.NewHealthChecker(blocker, dispatcher, output.DefaultHealthCheckerConfig())
		metricsConfig := output.MetricsConfig{
			Port:   viper.GetString("metrics.port"),
			Path:   "/metrics",
			Health: health,
		}
		if err := promMetrics.StartServer(metricsConfig); err != nil {
			log.Warn().Err(err).Msg("Failed to start metrics server")
		}
		defer promMetrics.StopServer()
	}

	var tailer *input.AuthLogTailer
	if viper.GetBool("producer.authlog.enabled") || viper.GetString("producer.authlog.path") != "" {
		var reporter input.InfractionReporter = blocker
		if geo != nil {
			reporter = &enrichingReporter{inner: blocker, reputation: repService, geo: geo}
		}
		tailer = input.NewAuthLogTailer(
			viper.GetString("producer.authlog.path"),
			viper.GetString("producer.authlog.rule"),
			reporter,
		)
		if err := tailer.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Auth log producer disabled")
			tailer = nil
		}
	}

	blocker.Start(ctx)

	// Drain the deferred-alert queue whenever the rate window has room.
	queueInterval := viper.GetDuration("alerts.queue_interval")
	if queueInterval <= 0 {
		queueInterval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(queueInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := dispatcher.ProcessQueue(ctx); n > 0 {
					log.Debug().Int("processed", n).Msg("Drained deferred alerts")
				}
			}
		}
	}()

	log.Info().
		Int("rules", len(rules)).
		Int("backends", len(backends)).
		Int("sources", len(sources)).
		Int("channels", len(channels)).
		Msg("IPSentinel started")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownDone := make(chan struct{})
	go func() {
		if tailer != nil {
			tailer.Stop()
		}
		blocker.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		log.Debug().Msg("Shutdown complete")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Shutdown timeout, forcing exit")
	}

	return nil
}

// enrichingReporter folds reputation and geo context into infraction
// metadata before handing the report to the blocker.
type enrichingReporter struct {
	inner      input.InfractionReporter
	reputation *app.ReputationService
	geo        ports.GeoLocator
}

func (r *enrichingReporter) ReportInfraction(ctx context.Context, subject, ruleID string, metadata map[string]string) (bool, error) {
	event := &domain.SecurityEvent{
		Subject:   subject,
		Type:      ruleID,
		Timestamp: time.Now(),
		Source:    "authlog",
		Metadata:  make(map[string]interface{}, len(metadata)),
	}
	for k, v := range metadata {
		event.Metadata[k] = v
	}

	enriched, err := r.reputation.EnrichEvent(ctx, event, r.geo)
	if err != nil {
		log.Debug().Err(err).Str("subject", subject).Msg("Enrichment failed")
		return r.inner.ReportInfraction(ctx, subject, ruleID, metadata)
	}

	merged := make(map[string]string, len(metadata)+4)
	for k, v := range metadata {
		merged[k] = v
	}
	if ti, ok := enriched.Event.Metadata["threat_intel"].(map[string]interface{}); ok {
		merged["malicious"] = fmt.Sprintf("%v", ti["is_malicious"])
		if s, ok := ti["source"].(string); ok {
			merged["intel_source"] = s
		}
		if c, ok := ti["country"].(string); ok {
			merged["country"] = c
		}
		if c, ok := ti["city"].(string); ok {
			merged["city"] = c
		}
	}
	return r.inner.ReportInfraction(ctx, subject, ruleID, merged)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
