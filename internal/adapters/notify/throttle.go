// Package notify provides notifier implementations for the user-facing
// message surface.
package notify

import (
	"sync"
	"time"

	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
)

// DefaultThrottleWindow is how long an identical message is suppressed
// after being shown.
const DefaultThrottleWindow = 3 * time.Second

// Throttled wraps a notifier and suppresses repeats of the same literal
// message within the throttle window. Prevents notification storms when
// many requests fail simultaneously for the same reason.
type Throttled struct {
	next   ports.Notifier
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

var _ ports.Notifier = (*Throttled)(nil)

// ThrottledOption customizes a Throttled notifier.
type ThrottledOption func(*Throttled)

// WithThrottleClock replaces the time source, for tests.
func WithThrottleClock(now func() time.Time) ThrottledOption {
	return func(t *Throttled) {
		t.now = now
	}
}

// NewThrottled wraps next with message deduplication. A window of zero or
// less disables throttling, which test builds use.
func NewThrottled(next ports.Notifier, window time.Duration, opts ...ThrottledOption) *Throttled {
	t := &Throttled{
		next:     next,
		window:   window,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttled) Error(message string) {
	if t.shouldEmit(message) {
		t.next.Error(message)
	}
}

func (t *Throttled) Success(message string) {
	if t.shouldEmit(message) {
		t.next.Success(message)
	}
}

func (t *Throttled) shouldEmit(message string) bool {
	if t.window <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastSeen[message]; ok && now.Sub(last) < t.window {
		return false
	}

	// Drop stale entries so the map stays proportional to recent traffic.
	for text, last := range t.lastSeen {
		if now.Sub(last) >= t.window {
			delete(t.lastSeen, text)
		}
	}

	t.lastSeen[message] = now
	return true
}
