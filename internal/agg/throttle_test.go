package agg

import (
	"testing"
	"time"
)

func TestThrottleWindow(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	tr := newThrottle(50 * time.Millisecond)
	tr.now = func() time.Time { return now }

	if !tr.allow("BTC") {
		t.Fatal("first call must pass")
	}
	now = now.Add(49 * time.Millisecond)
	if tr.allow("BTC") {
		t.Error("call inside the window must be dropped")
	}
	now = now.Add(1 * time.Millisecond)
	if !tr.allow("BTC") {
		t.Error("call at the window edge must pass")
	}
}

func TestThrottlePerKey(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	tr := newThrottle(50 * time.Millisecond)
	tr.now = func() time.Time { return now }

	if !tr.allow("BTC") || !tr.allow("ETH") {
		t.Error("keys throttle independently")
	}
}

func TestThrottleDisabled(t *testing.T) {
	t.Parallel()
	tr := newThrottle(0)
	for i := 0; i < 3; i++ {
		if !tr.allow("BTC") {
			t.Fatal("zero interval must never throttle")
		}
	}
}
