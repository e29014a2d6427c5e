package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
	"github.com/xoelrdgz/ipsentinel/internal/ports"
	"github.com/xoelrdgz/ipsentinel/pkg/slidingwindow"
)

// DispatcherConfig defines alert dispatcher construction options.
type DispatcherConfig struct {
	RateLimitPerMinute int           // Sent-alert cap per rolling minute (0 disables)
	GroupingWindow     time.Duration // De-duplication window (0 disables grouping)
	QueueCapacity      int           // Rate-limit queue bound (default: 1000)
	DeliveryTimeout    time.Duration // Per-channel call bound (default: 15s)
}

// AlertDispatcher turns discrete security events into deliverable
// notifications across multiple channels, applying rate limiting and
// temporal de-duplication before fan-out.
//
// Ordering per SendAlert: rate-limit check (excess is queued, not dropped),
// then grouping (duplicates within the window are suppressed), then
// concurrent fan-out to every channel. Per-channel failures are independent;
// the alert counts as sent regardless of per-channel outcome.
//
// Thread Safety: All public methods are safe for concurrent access.
type AlertDispatcher struct {
	channels        []ports.NotificationChannel
	limiter         *slidingwindow.Counter
	groupingWindow  time.Duration
	queueCapacity   int
	deliveryTimeout time.Duration

	mu     sync.Mutex
	recent []sentRecord
	queue  []*domain.Alert

	subMu       sync.RWMutex
	subscribers []ports.SignalSubscriber

	clock   ports.Clock
	metrics *domain.CoreMetrics
}

// sentRecord is the footprint an alert leaves behind for the grouping
// window.
type sentRecord struct {
	title    string
	severity domain.Severity
	at       time.Time
}

// NewAlertDispatcher creates a dispatcher over the given channels.
func NewAlertDispatcher(config DispatcherConfig, channels []ports.NotificationChannel, metrics *domain.CoreMetrics, clock ports.Clock) *AlertDispatcher {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 1000
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 15 * time.Second
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if metrics == nil {
		metrics = domain.NewCoreMetrics()
	}

	d := &AlertDispatcher{
		channels:        channels,
		groupingWindow:  config.GroupingWindow,
		queueCapacity:   config.QueueCapacity,
		deliveryTimeout: config.DeliveryTimeout,
		clock:           clock,
		metrics:         metrics,
	}
	if config.RateLimitPerMinute > 0 {
		d.limiter = slidingwindow.New(config.RateLimitPerMinute, time.Minute)
	}
	return d
}

// AddSubscriber registers a signal subscriber.
func (d *AlertDispatcher) AddSubscriber(sub ports.SignalSubscriber) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *AlertDispatcher) emit(name domain.SignalName, alert *domain.Alert) {
	signal := domain.Signal{Name: name, Time: d.clock.Now(), Subject: alert.Source, Payload: alert}
	d.subMu.RLock()
	for _, sub := range d.subscribers {
		sub.OnSignal(signal)
	}
	d.subMu.RUnlock()
}

// SendAlert dispatches a single alert. Rate-limited alerts are queued for
// ProcessQueue; grouped duplicates are suppressed. Never returns an error
// for per-channel failures.
func (d *AlertDispatcher) SendAlert(ctx context.Context, alert *domain.Alert) {
	now := d.clock.Now()

	d.mu.Lock()
	if d.limiter != nil && d.limiter.AtLimit(now) {
		d.enqueueLocked(alert)
		d.mu.Unlock()
		d.metrics.IncrementAlertsRateLimited()
		log.Debug().Str("alert", alert.ID).Msg("Alert rate-limited, queued")
		d.emit(domain.SignalRateLimited, alert)
		return
	}

	if d.groupingWindow > 0 {
		d.pruneRecentLocked(now)
		for _, rec := range d.recent {
			if rec.title == alert.Title && rec.severity == alert.Severity {
				d.mu.Unlock()
				d.metrics.IncrementAlertsGrouped()
				log.Debug().Str("alert", alert.ID).Str("title", alert.Title).Msg("Duplicate alert grouped")
				d.emit(domain.SignalGrouped, alert)
				return
			}
		}
	}

	if d.limiter != nil {
		d.limiter.Record(now)
	}
	if d.groupingWindow > 0 {
		d.recent = append(d.recent, sentRecord{title: alert.Title, severity: alert.Severity, at: now})
	}
	d.mu.Unlock()

	d.deliver(ctx, alert)
	d.metrics.IncrementAlertsSent()
	d.emit(domain.SignalSent, alert)
}

// deliver fans out to every channel concurrently and waits for the attempts
// to finish. A channel failure degrades that channel only.
func (d *AlertDispatcher) deliver(ctx context.Context, alert *domain.Alert) {
	var wg sync.WaitGroup
	for _, channel := range d.channels {
		wg.Add(1)
		go func(channel ports.NotificationChannel) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
			defer cancel()
			if err := channel.Deliver(callCtx, alert); err != nil {
				d.metrics.IncrementChannelFailures()
				log.Error().Err(err).
					Str("channel", channel.Name()).
					Str("alert", alert.ID).
					Msg("Channel delivery failed")
			}
		}(channel)
	}
	wg.Wait()
}

// enqueueLocked appends to the rate-limit queue, dropping the oldest entry
// when the bound is hit. Callers hold d.mu.
func (d *AlertDispatcher) enqueueLocked(alert *domain.Alert) {
	if len(d.queue) >= d.queueCapacity {
		dropped := d.queue[0]
		d.queue = d.queue[1:]
		log.Warn().Str("alert", dropped.ID).Msg("Alert queue full, dropping oldest")
	}
	d.queue = append(d.queue, alert)
}

func (d *AlertDispatcher) pruneRecentLocked(now time.Time) {
	cutoff := now.Add(-d.groupingWindow)
	dst := d.recent[:0]
	for _, rec := range d.recent {
		if rec.at.After(cutoff) {
			dst = append(dst, rec)
		}
	}
	d.recent = dst
}

// QueuedAlerts returns a snapshot of alerts deferred by rate limiting.
func (d *AlertDispatcher) QueuedAlerts() []*domain.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*domain.Alert, len(d.queue))
	copy(out, d.queue)
	return out
}

// ProcessQueue drains queued alerts through the normal send path while the
// rate limit allows. Intended to run periodically or after a cooldown.
func (d *AlertDispatcher) ProcessQueue(ctx context.Context) int {
	processed := 0
	for {
		d.mu.Lock()
		if len(d.queue) == 0 || (d.limiter != nil && d.limiter.AtLimit(d.clock.Now())) {
			d.mu.Unlock()
			return processed
		}
		alert := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.SendAlert(ctx, alert)
		processed++
	}
}

// QueueLength returns the current rate-limit queue depth.
func (d *AlertDispatcher) QueueLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// QueueCapacity returns the rate-limit queue bound.
func (d *AlertDispatcher) QueueCapacity() int {
	return d.queueCapacity
}
