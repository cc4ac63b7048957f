package gateway

import (
	"testing"
	"time"
)

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.Enabled() {
		t.Fatal("limiter with rpm 0 should be disabled")
	}
	for range 100 {
		if !rl.Allow("1.2.3.4") {
			t.Fatal("disabled limiter refused a request")
		}
	}
}

func TestRateLimiterBurstPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	for i := range 3 {
		if !rl.Allow("a") {
			t.Fatalf("request %d refused within burst", i)
		}
	}
	if rl.Allow("a") {
		t.Error("request beyond burst allowed")
	}
	if !rl.Allow("b") {
		t.Error("other key should have its own bucket")
	}
}

func TestRateLimiterUpdate(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("a")
	if rl.Allow("a") {
		t.Fatal("second request should be limited")
	}

	rl.Update(0, 0)
	if !rl.Allow("a") {
		t.Error("limiter disabled by update still refuses")
	}

	rl.Update(60000, 10)
	if !rl.Allow("a") {
		t.Error("raised limit should allow")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("old")
	rl.cleanup(time.Now().Add(time.Minute))

	if _, ok := rl.limiters.Load("old"); ok {
		t.Error("stale bucket survived cleanup")
	}
	if !rl.Allow("old") {
		t.Error("fresh bucket after cleanup should allow")
	}
}
