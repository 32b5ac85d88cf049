package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a maximum number of admin edits per caller within a window.
// Each key (usually the remote host) owns its own window.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events per key per window.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{
		window: window,
		limit:  limit,
		now:    timeSource,
		events: make(map[string][]time.Time),
	}
}

// Allow reports whether key may proceed and records the attempt when it may.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	//1.- Trim expired attempts in place and forget idle keys entirely.
	history := l.events[key]
	kept := history[:0]
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}

// Remaining reports how many attempts key has left in the current window.
func (l *SlidingWindowLimiter) Remaining(key string) int {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	used := 0
	for _, ts := range l.events[key] {
		if ts.After(cutoff) {
			used++
		}
	}
	return l.limit - used
}
