package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterRefills(t *testing.T) {
	l := New(2, time.Minute)
	defer l.Stop()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("006A") || !l.Allow("006A") {
		t.Fatal("first two calls should pass")
	}
	if l.Allow("006A") {
		t.Fatal("third call should be limited")
	}
	if d := l.RetryAfter("006A"); d <= 0 || d > 30*time.Second {
		t.Fatalf("RetryAfter = %v", d)
	}
	if !l.Allow("006B") {
		t.Fatal("keys must not share buckets")
	}

	now = now.Add(30 * time.Second)
	if !l.Allow("006A") {
		t.Fatal("token should refill after half the window")
	}

	l.Reset("006A")
	if !l.Allow("006A") {
		t.Fatal("Reset should restore the bucket")
	}
}

func TestZeroLimitDeniesAll(t *testing.T) {
	l := New(0, time.Minute)
	defer l.Stop()
	if l.Allow("x") || l.Allow("x") {
		t.Fatal("zero limit must deny")
	}
	l.Stop()
}
