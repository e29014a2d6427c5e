// Package app provides the security-operations core: the auto-blocker, the
// reputation service and the alert dispatcher.
//
// All three components hold process-local, in-memory mutable state. Per-key
// mutation is serialized through sharded locks so concurrent reports for the
// same subject cannot double-count or miss a threshold crossing.
package app

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
	"github.com/xoelrdgz/ipsentinel/internal/ports"
)

const blockerShardCount = 16

// approachRatio is the fraction of a rule's threshold at which the
// threshold-approaching signal fires.
const approachRatio = 0.8

// ReputationChecker is the optional seam to the reputation service used to
// weight infraction severity. Kept as a local interface so the auto-blocker
// has no hard dependency on the service.
type ReputationChecker interface {
	CheckReputation(ctx context.Context, subject string) (*domain.IPReputation, error)
}

// AutoBlockerConfig defines auto-blocker construction options.
type AutoBlockerConfig struct {
	Rules              []domain.BlockRule
	Whitelist          []string
	SweepInterval      time.Duration // Expiry sweep period (default: 60s)
	EnforcementTimeout time.Duration // Per-backend call bound (default: 10s)
}

// AutoBlocker maintains per-subject sliding-window infraction counts against
// a rule set and drives enforcement backends when thresholds are crossed.
//
// State machine per subject: clean -> watched -> blocked-temporary ->
// blocked-permanent, with one-way escalation. Temporary blocks expire via
// the background sweep; permanent blocks clear only through manual unblock.
//
// Thread Safety: All public methods are safe for concurrent access.
type AutoBlocker struct {
	rules              map[string]domain.BlockRule
	enforcementTimeout time.Duration
	sweepInterval      time.Duration

	shards [blockerShardCount]*blockerShard

	whitelistMu sync.RWMutex
	whitelist   map[string]struct{}

	backends   []ports.EnforcementBackend
	reputation ReputationChecker

	subMu       sync.RWMutex
	subscribers []ports.SignalSubscriber

	clock   ports.Clock
	metrics *domain.CoreMetrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// blockerShard owns the ledgers and block records for a slice of the
// subject key space. All mutation happens under its mutex.
type blockerShard struct {
	mu sync.Mutex
	// subject -> rule ID -> infraction timestamps within the rule window
	ledgers map[string]map[string][]time.Time
	blocked map[string]*domain.BlockedEntry
}

// NewAutoBlocker creates an auto-blocker from the given rule set.
//
// Returns an error if any rule fails validation or two rules share an ID.
func NewAutoBlocker(config AutoBlockerConfig, backends []ports.EnforcementBackend, reputation ReputationChecker, metrics *domain.CoreMetrics, clock ports.Clock) (*AutoBlocker, error) {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 60 * time.Second
	}
	if config.EnforcementTimeout <= 0 {
		config.EnforcementTimeout = 10 * time.Second
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if metrics == nil {
		metrics = domain.NewCoreMetrics()
	}

	rules := make(map[string]domain.BlockRule, len(config.Rules))
	for _, rule := range config.Rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if _, dup := rules[rule.ID]; dup {
			return nil, &domain.RuleValidationError{Rule: rule.ID, Field: "id", Reason: "duplicate rule id"}
		}
		rules[rule.ID] = rule
	}

	b := &AutoBlocker{
		rules:              rules,
		enforcementTimeout: config.EnforcementTimeout,
		sweepInterval:      config.SweepInterval,
		whitelist:          make(map[string]struct{}, len(config.Whitelist)),
		backends:           backends,
		reputation:         reputation,
		clock:              clock,
		metrics:            metrics,
		stopChan:           make(chan struct{}),
	}
	for _, subject := range config.Whitelist {
		b.whitelist[subject] = struct{}{}
	}
	for i := range b.shards {
		b.shards[i] = &blockerShard{
			ledgers: make(map[string]map[string][]time.Time),
			blocked: make(map[string]*domain.BlockedEntry),
		}
	}
	return b, nil
}

// AddSubscriber registers a signal subscriber.
func (b *AutoBlocker) AddSubscriber(sub ports.SignalSubscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

func (b *AutoBlocker) shardFor(subject string) *blockerShard {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return b.shards[h.Sum32()%blockerShardCount]
}

func (b *AutoBlocker) emit(name domain.SignalName, subject string, payload interface{}) {
	signal := domain.Signal{Name: name, Time: b.clock.Now(), Subject: subject, Payload: payload}
	b.subMu.RLock()
	for _, sub := range b.subscribers {
		sub.OnSignal(signal)
	}
	b.subMu.RUnlock()
}

// ReportInfraction records an infraction for subject against the given rule
// and returns true when the report caused (or confirmed) a block.
//
// Behavior:
//   - Unregistered rule: *domain.UnknownRuleError, no state change.
//   - Whitelisted subject: whitelist-hit signal, report discarded.
//   - Otherwise the occurrence is appended to the subject's ledger, entries
//     older than the rule window are pruned, and the remaining count is
//     compared to the threshold. Crossing it blocks the subject; crossing it
//     while already blocked escalates the block to permanent.
//
// Enforcement backends are invoked concurrently and independently; their
// failures never roll back the in-memory decision.
func (b *AutoBlocker) ReportInfraction(ctx context.Context, subject, ruleID string, metadata map[string]string) (bool, error) {
	rule, ok := b.rules[ruleID]
	if !ok {
		return false, &domain.UnknownRuleError{RuleID: ruleID}
	}

	if b.isWhitelisted(subject) {
		b.metrics.IncrementWhitelistHits()
		b.emit(domain.SignalWhitelistHit, subject, map[string]string{"rule": ruleID})
		return false, nil
	}

	// Reputation weighting happens outside the shard lock: a known-bad
	// subject counts double, so it crosses thresholds sooner.
	weight := 1
	if b.reputation != nil {
		repCtx, cancel := context.WithTimeout(ctx, b.enforcementTimeout)
		rep, err := b.reputation.CheckReputation(repCtx, subject)
		cancel()
		if err == nil && rep.IsMalicious {
			weight = 2
		}
	}

	now := b.clock.Now()
	shard := b.shardFor(subject)

	shard.mu.Lock()
	ruleLedgers, ok := shard.ledgers[subject]
	if !ok {
		ruleLedgers = make(map[string][]time.Time)
		shard.ledgers[subject] = ruleLedgers
	}
	ledger := ruleLedgers[rule.ID]
	for i := 0; i < weight; i++ {
		ledger = append(ledger, now)
	}
	ledger = pruneBefore(ledger, now.Add(-rule.Window))
	ruleLedgers[rule.ID] = ledger
	count := len(ledger)

	if count < rule.Threshold {
		shard.mu.Unlock()
		if float64(count) >= approachRatio*float64(rule.Threshold) {
			b.emit(domain.SignalThresholdApproached, subject, map[string]interface{}{
				"rule": rule.ID, "count": count, "threshold": rule.Threshold,
			})
		}
		return false, nil
	}

	entry, alreadyBlocked := shard.blocked[subject]
	if alreadyBlocked {
		// Recidivism: escalate to permanent. Escalation is monotonic; an
		// already-permanent entry stays as is.
		escalated := false
		if entry.ExpiresAt != nil {
			entry.ExpiresAt = nil
			entry.InfractionCount = count
			escalated = true
		}
		entrySnapshot := *entry
		shard.mu.Unlock()

		if escalated {
			b.metrics.IncrementEscalations()
			log.Warn().Str("subject", subject).Str("rule", rule.ID).
				Msg("Repeat offense while blocked, escalating to permanent")
			b.emit(domain.SignalBlockEscalated, subject, &entrySnapshot)
		}
		return true, nil
	}

	entry = &domain.BlockedEntry{
		Subject:         subject,
		Reason:          rule.Name,
		BlockedAt:       now,
		RuleID:          rule.ID,
		InfractionCount: count,
	}
	if !rule.Permanent() {
		expires := now.Add(rule.BanDuration)
		entry.ExpiresAt = &expires
	}
	shard.blocked[subject] = entry
	entrySnapshot := *entry
	shard.mu.Unlock()

	b.metrics.IncrementBlocks()
	log.Info().Str("subject", subject).Str("rule", rule.ID).
		Int("infractions", count).Bool("permanent", entry.Permanent()).
		Msg("Subject blocked")
	b.enforce(func(ctx context.Context, backend ports.EnforcementBackend) error {
		return backend.Ban(ctx, subject)
	}, subject, "ban")
	b.emit(domain.SignalBlock, subject, &entrySnapshot)
	return true, nil
}

// Unblock removes a subject's active block and its ledger, invokes removal
// on every enforcement backend and emits an unblock signal.
//
// Returns *domain.NotBlockedError when the subject has no active block.
func (b *AutoBlocker) Unblock(subject, reason string) error {
	shard := b.shardFor(subject)

	shard.mu.Lock()
	entry, ok := shard.blocked[subject]
	if !ok {
		shard.mu.Unlock()
		return &domain.NotBlockedError{Subject: subject}
	}
	delete(shard.blocked, subject)
	delete(shard.ledgers, subject)
	entrySnapshot := *entry
	shard.mu.Unlock()

	b.metrics.IncrementUnblocks()
	log.Info().Str("subject", subject).Str("reason", reason).Msg("Subject unblocked")
	b.enforce(func(ctx context.Context, backend ports.EnforcementBackend) error {
		return backend.Unban(ctx, subject)
	}, subject, "unban")
	b.emit(domain.SignalUnblock, subject, map[string]interface{}{
		"entry": &entrySnapshot, "reason": reason,
	})
	return nil
}

// enforce fans an operation out to every backend concurrently. Failures are
// logged and counted; the authoritative state transition already happened.
func (b *AutoBlocker) enforce(op func(context.Context, ports.EnforcementBackend) error, subject, action string) {
	for _, backend := range b.backends {
		b.wg.Add(1)
		go func(backend ports.EnforcementBackend) {
			defer b.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), b.enforcementTimeout)
			defer cancel()
			if err := op(ctx, backend); err != nil {
				b.metrics.IncrementEnforcementFailures()
				log.Error().Err(err).
					Str("backend", backend.Name()).
					Str("subject", subject).
					Str("action", action).
					Msg("Enforcement backend call failed")
			}
		}(backend)
	}
}

// AddToWhitelist adds a subject to the whitelist. Idempotent; the signal
// fires only when membership actually changes.
func (b *AutoBlocker) AddToWhitelist(subject string) {
	b.whitelistMu.Lock()
	_, exists := b.whitelist[subject]
	b.whitelist[subject] = struct{}{}
	b.whitelistMu.Unlock()

	if !exists {
		b.emit(domain.SignalWhitelistAdd, subject, nil)
	}
}

// RemoveFromWhitelist removes a subject from the whitelist. Idempotent.
func (b *AutoBlocker) RemoveFromWhitelist(subject string) {
	b.whitelistMu.Lock()
	_, exists := b.whitelist[subject]
	delete(b.whitelist, subject)
	b.whitelistMu.Unlock()

	if exists {
		b.emit(domain.SignalWhitelistRemove, subject, nil)
	}
}

func (b *AutoBlocker) isWhitelisted(subject string) bool {
	b.whitelistMu.RLock()
	defer b.whitelistMu.RUnlock()
	_, ok := b.whitelist[subject]
	return ok
}

// IsBlocked reports whether the subject currently has an active block.
func (b *AutoBlocker) IsBlocked(subject string) bool {
	shard := b.shardFor(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	_, ok := shard.blocked[subject]
	return ok
}

// BlockedSubjects returns a snapshot of all active block entries.
func (b *AutoBlocker) BlockedSubjects() []domain.BlockedEntry {
	var entries []domain.BlockedEntry
	for _, shard := range b.shards {
		shard.mu.Lock()
		for _, entry := range shard.blocked {
			entries = append(entries, *entry)
		}
		shard.mu.Unlock()
	}
	return entries
}

// Metrics returns a counters snapshot.
func (b *AutoBlocker) Metrics() domain.CoreMetricsSnapshot {
	return b.metrics.GetSnapshot()
}

// Start launches the background expiry sweep. Idempotent per process
// lifetime; Stop halts it.
func (b *AutoBlocker) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopChan:
				return
			case <-ticker.C:
				b.SweepExpired(b.clock.Now())
			}
		}
	}()
	log.Info().Dur("interval", b.sweepInterval).Int("rules", len(b.rules)).Msg("Auto-blocker started")
}

// SweepExpired unblocks every entry whose expiry has passed, using the same
// removal path as manual unblock. Exported so tests can drive virtual time.
func (b *AutoBlocker) SweepExpired(now time.Time) int {
	var expired []string
	for _, shard := range b.shards {
		shard.mu.Lock()
		for subject, entry := range shard.blocked {
			if entry.Expired(now) {
				expired = append(expired, subject)
			}
		}
		shard.mu.Unlock()
	}

	for _, subject := range expired {
		if err := b.Unblock(subject, "expired"); err != nil {
			// Raced with a manual unblock; nothing left to do.
			log.Debug().Str("subject", subject).Msg("Expired entry already removed")
		}
	}
	return len(expired)
}

// Stop halts the sweep and waits for in-flight enforcement calls.
func (b *AutoBlocker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.wg.Wait()
		log.Info().Msg("Auto-blocker stopped")
	})
}

func pruneBefore(ledger []time.Time, cutoff time.Time) []time.Time {
	dst := ledger[:0]
	for _, ts := range ledger {
		if ts.After(cutoff) {
			dst = append(dst, ts)
		}
	}
	return dst
}
