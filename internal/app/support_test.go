package app

import (
	"sync"
	"time"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSubscriber captures emitted signals for assertions.
type recordingSubscriber struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (r *recordingSubscriber) OnSignal(signal domain.Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, signal)
	r.mu.Unlock()
}

func (r *recordingSubscriber) byName(name domain.SignalName) []domain.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Signal
	for _, s := range r.signals {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

func (r *recordingSubscriber) count(name domain.SignalName) int {
	return len(r.byName(name))
}
