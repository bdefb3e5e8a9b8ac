package agg

import (
	"sync"
	"time"
)

// throttle enforces a per-key minimum interval. A call inside the window is
// rejected outright rather than queued; the next allowed call carries the
// freshest state anyway.
type throttle struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// allow reports whether key may publish now, and records the publish if so.
func (t *throttle) allow(key string) bool {
	if t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[key] = now
	return true
}
