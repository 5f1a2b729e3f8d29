package session

import "time"

// slidingWindowLimiter implements the per-connection terminal.create rate
// bucket of spec §4.3: default 10 creates per 10s sliding window.
type slidingWindowLimiter struct {
	limit  int
	window time.Duration
	events []time.Time
}

func newSlidingWindowLimiter(limit int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{limit: limit, window: window}
}

// Allow records an event at now and reports whether it fits within the
// window's limit. Expired events are pruned first so the window truly
// slides rather than resetting on a fixed boundary.
func (l *slidingWindowLimiter) Allow(now time.Time) bool {
	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.events = kept

	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
