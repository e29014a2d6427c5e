// Package input provides infraction producers. The auth log tailer follows
// an sshd auth log and reports failed authentication attempts to the
// auto-blocker.
package input

import (
	"context"
	"regexp"
	"sync"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/ipsentinel/pkg/sanitize"
)

// maxUserLength bounds the username carried into alert metadata.
const maxUserLength = 64

// maxLineLength bounds accepted log lines; anything longer is truncated
// before matching.
const maxLineLength = 8192

// InfractionReporter receives the infractions the tailer extracts. The
// auto-blocker satisfies this.
type InfractionReporter interface {
	ReportInfraction(ctx context.Context, subject, ruleID string, metadata map[string]string) (bool, error)
}

// sshd failure lines:
//
//	Failed password for invalid user admin from 203.0.113.7 port 54812 ssh2
//	Failed password for root from 203.0.113.7 port 54812 ssh2
//	Invalid user oracle from 203.0.113.7 port 40022
var (
	failedPasswordRe = regexp.MustCompile(`Failed password for (?:invalid user )?(\S+) from (\S+) port \d+`)
	invalidUserRe    = regexp.MustCompile(`Invalid user (\S+) from (\S+)`)
)

// AuthLogEvent is one extracted infraction.
type AuthLogEvent struct {
	Subject string
	User    string
	Kind    string
}

// AuthLogTailer follows an auth log file and reports each failed
// authentication line as an infraction under a configured rule.
type AuthLogTailer struct {
	filepath string
	ruleID   string
	reporter InfractionReporter
	tail     *tail.Tail

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewAuthLogTailer creates a tailer feeding infractions for ruleID to the
// reporter.
func NewAuthLogTailer(filepath, ruleID string, reporter InfractionReporter) *AuthLogTailer {
	return &AuthLogTailer{
		filepath: filepath,
		ruleID:   ruleID,
		reporter: reporter,
		stopChan: make(chan struct{}),
	}
}

// ParseAuthLogLine extracts a failed-authentication event from an sshd log
// line. Returns nil for lines that are not failures.
func ParseAuthLogLine(line string) *AuthLogEvent {
	if len(line) > maxLineLength {
		line = line[:maxLineLength]
	}
	if m := failedPasswordRe.FindStringSubmatch(line); m != nil {
		return &AuthLogEvent{Subject: sanitize.Subject(m[2]), User: sanitize.String(m[1], maxUserLength), Kind: "failed_password"}
	}
	if m := invalidUserRe.FindStringSubmatch(line); m != nil {
		return &AuthLogEvent{Subject: sanitize.Subject(m[2]), User: sanitize.String(m[1], maxUserLength), Kind: "invalid_user"}
	}
	return nil
}

// Start begins following the file from its end. Safe to call once; later
// calls are no-ops while running.
func (t *AuthLogTailer) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	config := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: 2},
	}

	tf, err := tail.TailFile(t.filepath, config)
	if err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		log.Error().Err(err).Str("file", t.filepath).Msg("Failed to tail auth log")
		return err
	}
	t.tail = tf

	log.Info().Str("file", t.filepath).Str("rule", t.ruleID).Msg("Started tailing auth log")

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopChan:
				return
			case line, ok := <-tf.Lines:
				if !ok {
					log.Info().Msg("Auth log tail channel closed")
					return
				}
				if line.Err != nil {
					log.Warn().Err(line.Err).Msg("Error reading auth log line")
					continue
				}
				event := ParseAuthLogLine(line.Text)
				if event == nil {
					continue
				}

				metadata := map[string]string{"user": event.User, "kind": event.Kind}
				if _, err := t.reporter.ReportInfraction(ctx, event.Subject, t.ruleID, metadata); err != nil {
					log.Warn().Err(err).Str("subject", event.Subject).Msg("Failed to report infraction")
				}
			}
		}
	}()
	return nil
}

// Stop halts the tailer and waits for the reader goroutine.
func (t *AuthLogTailer) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopChan)
	t.mu.Unlock()

	t.wg.Wait()
	if t.tail != nil {
		return t.tail.Stop()
	}
	return nil
}

// IsRunning reports whether the tailer is active.
func (t *AuthLogTailer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
