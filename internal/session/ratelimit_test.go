package session

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiterAllowsUpToLimit(t *testing.T) {
	l := newSlidingWindowLimiter(3, time.Second)
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		if !l.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if l.Allow(now) {
		t.Fatal("4th event within the window should be rejected")
	}
}

func TestSlidingWindowLimiterExpiresOldEvents(t *testing.T) {
	l := newSlidingWindowLimiter(1, 100*time.Millisecond)
	start := time.Unix(0, 0)
	if !l.Allow(start) {
		t.Fatal("first event should be allowed")
	}
	if l.Allow(start.Add(50 * time.Millisecond)) {
		t.Fatal("event inside the window should be rejected")
	}
	if !l.Allow(start.Add(200 * time.Millisecond)) {
		t.Fatal("event after the window should be allowed")
	}
}
