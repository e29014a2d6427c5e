package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
	"github.com/xoelrdgz/ipsentinel/internal/ports"
)

type mockBackend struct {
	name       string
	failBan    bool
	banCount   atomic.Int64
	unbanCount atomic.Int64
}

func (m *mockBackend) Ban(ctx context.Context, subject string) error {
	m.banCount.Add(1)
	if m.failBan {
		return errors.New("backend down")
	}
	return nil
}

func (m *mockBackend) Unban(ctx context.Context, subject string) error {
	m.unbanCount.Add(1)
	return nil
}

func (m *mockBackend) Name() string { return m.name }

type maliciousChecker struct{}

func (maliciousChecker) CheckReputation(ctx context.Context, subject string) (*domain.IPReputation, error) {
	return &domain.IPReputation{Subject: subject, IsMalicious: true, Score: 90, Source: "test"}, nil
}

func testRule(threshold int, window, ban time.Duration) domain.BlockRule {
	return domain.BlockRule{
		ID:          "brute-force",
		Name:        "repeated login failures",
		Threshold:   threshold,
		Window:      window,
		BanDuration: ban,
		Action:      domain.ActionTemporaryBan,
		Severity:    domain.SeverityHigh,
	}
}

func newTestBlocker(t *testing.T, rule domain.BlockRule, backends []ports.EnforcementBackend, rep ReputationChecker) (*AutoBlocker, *fakeClock, *recordingSubscriber) {
	t.Helper()
	clock := newFakeClock()
	blocker, err := NewAutoBlocker(AutoBlockerConfig{
		Rules: []domain.BlockRule{rule},
	}, backends, rep, domain.NewCoreMetrics(), clock)
	if err != nil {
		t.Fatalf("NewAutoBlocker: %v", err)
	}
	sub := &recordingSubscriber{}
	blocker.AddSubscriber(sub)
	return blocker, clock, sub
}

func TestAutoBlocker_ThresholdCrossing(t *testing.T) {
	backend := &mockBackend{name: "mock"}
	blocker, clock, sub := newTestBlocker(t, testRule(5, time.Minute, 5*time.Minute), []ports.EnforcementBackend{backend}, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		blocked, err := blocker.ReportInfraction(ctx, "10.0.0.1", "brute-force", nil)
		if err != nil {
			t.Fatalf("Report %d: %v", i+1, err)
		}
		if blocked {
			t.Fatalf("Report %d should not block", i+1)
		}
	}

	blocked, err := blocker.ReportInfraction(ctx, "10.0.0.1", "brute-force", nil)
	if err != nil {
		t.Fatalf("Fifth report: %v", err)
	}
	if !blocked {
		t.Fatal("Fifth report within window should block")
	}

	entries := blocker.BlockedSubjects()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 blocked subject, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Subject != "10.0.0.1" || entry.RuleID != "brute-force" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.ExpiresAt == nil {
		t.Fatal("Temporary block should carry an expiry")
	}
	wantExpiry := clock.Now().Add(5 * time.Minute)
	if !entry.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("Expected expiry %v, got %v", wantExpiry, entry.ExpiresAt)
	}

	if sub.count(domain.SignalBlock) != 1 {
		t.Errorf("Expected 1 block signal, got %d", sub.count(domain.SignalBlock))
	}

	blocker.Stop()
	if backend.banCount.Load() != 1 {
		t.Errorf("Expected 1 backend ban, got %d", backend.banCount.Load())
	}
}

func TestAutoBlocker_ThresholdApproachingSignal(t *testing.T) {
	blocker, _, sub := newTestBlocker(t, testRule(5, time.Minute, 5*time.Minute), nil, nil)
	ctx := context.Background()

	// 4 of 5 is at the 80% mark.
	for i := 0; i < 4; i++ {
		blocker.ReportInfraction(ctx, "10.0.0.2", "brute-force", nil)
	}
	if sub.count(domain.SignalThresholdApproached) != 1 {
		t.Errorf("Expected 1 threshold-approaching signal, got %d", sub.count(domain.SignalThresholdApproached))
	}
}

func TestAutoBlocker_WindowPruning(t *testing.T) {
	blocker, clock, _ := newTestBlocker(t, testRule(3, time.Minute, 5*time.Minute), nil, nil)
	ctx := context.Background()

	blocker.ReportInfraction(ctx, "10.0.0.3", "brute-force", nil)
	blocker.ReportInfraction(ctx, "10.0.0.3", "brute-force", nil)

	// Both fall out of the window before the next report.
	clock.Advance(61 * time.Second)

	blocked, _ := blocker.ReportInfraction(ctx, "10.0.0.3", "brute-force", nil)
	if blocked {
		t.Fatal("Stale infractions must not count toward the threshold")
	}

	blocker.ReportInfraction(ctx, "10.0.0.3", "brute-force", nil)
	blocked, _ = blocker.ReportInfraction(ctx, "10.0.0.3", "brute-force", nil)
	if !blocked {
		t.Fatal("Three fresh infractions should block")
	}
}

func TestAutoBlocker_UnknownRule(t *testing.T) {
	blocker, _, _ := newTestBlocker(t, testRule(3, time.Minute, time.Minute), nil, nil)

	_, err := blocker.ReportInfraction(context.Background(), "10.0.0.4", "no-such-rule", nil)
	var unknownErr *domain.UnknownRuleError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("Expected UnknownRuleError, got %v", err)
	}
}

func TestAutoBlocker_WhitelistNeverBlocked(t *testing.T) {
	blocker, _, sub := newTestBlocker(t, testRule(3, time.Minute, time.Minute), nil, nil)
	blocker.AddToWhitelist("192.168.1.1")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		blocked, err := blocker.ReportInfraction(ctx, "192.168.1.1", "brute-force", nil)
		if err != nil {
			t.Fatalf("Report %d: %v", i+1, err)
		}
		if blocked {
			t.Fatal("Whitelisted subject must never block")
		}
	}

	if blocker.IsBlocked("192.168.1.1") {
		t.Error("Whitelisted subject should not be blocked")
	}
	if sub.count(domain.SignalWhitelistHit) != 20 {
		t.Errorf("Expected 20 whitelist-hit signals, got %d", sub.count(domain.SignalWhitelistHit))
	}

	// Whitelist hits discard the report, so removal starts from a clean
	// ledger.
	blocker.RemoveFromWhitelist("192.168.1.1")
	blocked, _ := blocker.ReportInfraction(ctx, "192.168.1.1", "brute-force", nil)
	if blocked {
		t.Error("First report after whitelist removal should not block")
	}
}

func TestAutoBlocker_WhitelistIdempotentSignals(t *testing.T) {
	blocker, _, sub := newTestBlocker(t, testRule(3, time.Minute, time.Minute), nil, nil)

	blocker.AddToWhitelist("10.1.1.1")
	blocker.AddToWhitelist("10.1.1.1")
	if sub.count(domain.SignalWhitelistAdd) != 1 {
		t.Errorf("Expected 1 whitelist-add signal, got %d", sub.count(domain.SignalWhitelistAdd))
	}

	blocker.RemoveFromWhitelist("10.1.1.1")
	blocker.RemoveFromWhitelist("10.1.1.1")
	if sub.count(domain.SignalWhitelistRemove) != 1 {
		t.Errorf("Expected 1 whitelist-remove signal, got %d", sub.count(domain.SignalWhitelistRemove))
	}
}

func TestAutoBlocker_EscalationIsMonotonic(t *testing.T) {
	blocker, clock, sub := newTestBlocker(t, testRule(3, time.Minute, 5*time.Minute), nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		blocker.ReportInfraction(ctx, "10.0.0.5", "brute-force", nil)
	}
	if !blocker.IsBlocked("10.0.0.5") {
		t.Fatal("Subject should be blocked")
	}

	// Recidivism while blocked escalates to permanent.
	blocked, err := blocker.ReportInfraction(ctx, "10.0.0.5", "brute-force", nil)
	if err != nil || !blocked {
		t.Fatalf("Recidivist report: blocked=%v err=%v", blocked, err)
	}
	if sub.count(domain.SignalBlockEscalated) != 1 {
		t.Fatalf("Expected 1 block-escalated signal, got %d", sub.count(domain.SignalBlockEscalated))
	}

	entries := blocker.BlockedSubjects()
	if len(entries) != 1 || entries[0].ExpiresAt != nil {
		t.Fatal("Escalated block should be permanent")
	}

	// Permanent blocks survive any amount of elapsed time.
	clock.Advance(24 * time.Hour)
	if swept := blocker.SweepExpired(clock.Now()); swept != 0 {
		t.Errorf("Sweep removed %d permanent blocks", swept)
	}
	if !blocker.IsBlocked("10.0.0.5") {
		t.Error("Permanent block must survive the sweep")
	}

	// Repeat offenses do not re-escalate or emit further signals.
	blocker.ReportInfraction(ctx, "10.0.0.5", "brute-force", nil)
	if sub.count(domain.SignalBlockEscalated) != 1 {
		t.Error("Already-permanent entry should not escalate again")
	}

	// Only a manual unblock clears a permanent block.
	if err := blocker.Unblock("10.0.0.5", "operator review"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if blocker.IsBlocked("10.0.0.5") {
		t.Error("Manual unblock should clear the permanent block")
	}
}

func TestAutoBlocker_UnblockNotBlocked(t *testing.T) {
	blocker, _, _ := newTestBlocker(t, testRule(3, time.Minute, time.Minute), nil, nil)

	err := blocker.Unblock("10.0.0.6", "typo")
	var notBlocked *domain.NotBlockedError
	if !errors.As(err, &notBlocked) {
		t.Fatalf("Expected NotBlockedError, got %v", err)
	}
}

func TestAutoBlocker_SweepExpiresTemporaryBlocks(t *testing.T) {
	backend := &mockBackend{name: "mock"}
	blocker, clock, sub := newTestBlocker(t, testRule(3, time.Minute, 5*time.Minute), []ports.EnforcementBackend{backend}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		blocker.ReportInfraction(ctx, "10.0.0.7", "brute-force", nil)
	}

	if swept := blocker.SweepExpired(clock.Now().Add(time.Minute)); swept != 0 {
		t.Errorf("Nothing should expire before the ban duration, swept %d", swept)
	}

	clock.Advance(6 * time.Minute)
	if swept := blocker.SweepExpired(clock.Now()); swept != 1 {
		t.Fatalf("Expected 1 swept entry, got %d", swept)
	}
	if blocker.IsBlocked("10.0.0.7") {
		t.Error("Expired block should be removed")
	}

	unblocks := sub.byName(domain.SignalUnblock)
	if len(unblocks) != 1 {
		t.Fatalf("Expected 1 unblock signal, got %d", len(unblocks))
	}
	payload := unblocks[0].Payload.(map[string]interface{})
	if payload["reason"] != "expired" {
		t.Errorf("Expected reason expired, got %v", payload["reason"])
	}

	blocker.Stop()
	if backend.unbanCount.Load() != 1 {
		t.Errorf("Expected 1 backend unban, got %d", backend.unbanCount.Load())
	}
}

func TestAutoBlocker_EnforcementFailureDoesNotRollBack(t *testing.T) {
	failing := &mockBackend{name: "failing", failBan: true}
	healthy := &mockBackend{name: "healthy"}
	blocker, _, _ := newTestBlocker(t, testRule(2, time.Minute, time.Minute), []ports.EnforcementBackend{failing, healthy}, nil)
	ctx := context.Background()

	blocker.ReportInfraction(ctx, "10.0.0.8", "brute-force", nil)
	blocked, _ := blocker.ReportInfraction(ctx, "10.0.0.8", "brute-force", nil)
	if !blocked {
		t.Fatal("Threshold crossing should block despite backend failure")
	}
	if !blocker.IsBlocked("10.0.0.8") {
		t.Fatal("Block record must survive enforcement failure")
	}

	blocker.Stop()
	if healthy.banCount.Load() != 1 {
		t.Errorf("Healthy backend should still be called, got %d", healthy.banCount.Load())
	}
	if got := blocker.Metrics().EnforcementFailures; got != 1 {
		t.Errorf("Expected 1 enforcement failure, got %d", got)
	}
}

func TestAutoBlocker_ReputationWeighting(t *testing.T) {
	blocker, _, _ := newTestBlocker(t, testRule(4, time.Minute, time.Minute), nil, maliciousChecker{})
	ctx := context.Background()

	// Known-bad subjects count double, so two reports cross a threshold of
	// four.
	blocked, _ := blocker.ReportInfraction(ctx, "10.0.0.9", "brute-force", nil)
	if blocked {
		t.Fatal("First weighted report should not block")
	}
	blocked, _ = blocker.ReportInfraction(ctx, "10.0.0.9", "brute-force", nil)
	if !blocked {
		t.Fatal("Second weighted report should block")
	}
}

func TestAutoBlocker_Metrics(t *testing.T) {
	blocker, _, _ := newTestBlocker(t, testRule(2, time.Minute, time.Minute), nil, nil)
	blocker.AddToWhitelist("172.16.0.1")
	ctx := context.Background()

	blocker.ReportInfraction(ctx, "172.16.0.1", "brute-force", nil)
	blocker.ReportInfraction(ctx, "10.0.1.1", "brute-force", nil)
	blocker.ReportInfraction(ctx, "10.0.1.1", "brute-force", nil)
	blocker.Unblock("10.0.1.1", "test")

	snapshot := blocker.Metrics()
	if snapshot.TotalBlocks != 1 || snapshot.TotalUnblocks != 1 || snapshot.ActiveBlocks != 0 || snapshot.WhitelistHits != 1 {
		t.Errorf("Unexpected metrics: %+v", snapshot)
	}
}

func TestAutoBlocker_ConcurrentReportsSingleBlock(t *testing.T) {
	blocker, _, sub := newTestBlocker(t, testRule(100, time.Minute, time.Minute), nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := blocker.ReportInfraction(ctx, "10.0.2.2", "brute-force", nil); err != nil {
					t.Errorf("ReportInfraction: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	// 200 serialized reports against a threshold of 100: exactly one block
	// transition, later reports land on the existing entry.
	if sub.count(domain.SignalBlock) != 1 {
		t.Errorf("Expected exactly 1 block signal, got %d", sub.count(domain.SignalBlock))
	}
	if blocker.Metrics().TotalBlocks != 1 {
		t.Errorf("Expected 1 total block, got %d", blocker.Metrics().TotalBlocks)
	}
}

func TestAutoBlocker_IndependentSubjects(t *testing.T) {
	blocker, _, _ := newTestBlocker(t, testRule(3, time.Minute, time.Minute), nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		blocker.ReportInfraction(ctx, "10.0.3.1", "brute-force", nil)
	}
	for i := 0; i < 2; i++ {
		blocker.ReportInfraction(ctx, fmt.Sprintf("10.0.3.%d", i+2), "brute-force", nil)
	}

	if !blocker.IsBlocked("10.0.3.1") {
		t.Error("Subject over threshold should be blocked")
	}
	for i := 0; i < 2; i++ {
		if blocker.IsBlocked(fmt.Sprintf("10.0.3.%d", i+2)) {
			t.Error("Subjects under threshold must stay clean")
		}
	}
}
