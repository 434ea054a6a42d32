package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit events in any window. It keeps
// the admission times in a ring so the oldest one decides the next slot.
type SlidingWindowLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	ring []time.Time
	next int
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events
// per window. A non-positive window or limit disables limiting.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	l := &SlidingWindowLimiter{window: window, now: timeSource}
	if window > 0 && limit > 0 {
		l.ring = make([]time.Time, limit)
	}
	return l
}

// Allow reports whether the caller may proceed and records the admission.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || len(l.ring) == 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	oldest := l.ring[l.next]
	if !oldest.IsZero() && now.Sub(oldest) < l.window {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true
}

// RetryAfter reports how long until the next call would be admitted.
func (l *SlidingWindowLimiter) RetryAfter() time.Duration {
	if l == nil || len(l.ring) == 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	oldest := l.ring[l.next]
	if oldest.IsZero() {
		return 0
	}
	return max(l.window-l.now().Sub(oldest), 0)
}
