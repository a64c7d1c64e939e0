package network

import (
	"testing"
	"time"
)

func TestIPLimiterPerRemoteIP(t *testing.T) {
	limiter := newIPLimiter(2, time.Second)
	now := time.Unix(1_700_000_000, 0)

	if !limiter.Allow("10.0.0.1:1000", now) || !limiter.Allow("10.0.0.1:1001", now) {
		t.Fatalf("expected burst of two to be admitted")
	}
	if limiter.Allow("10.0.0.1:1002", now) {
		t.Fatalf("expected third connection from same IP to be rejected")
	}
	if !limiter.Allow("10.0.0.2:1000", now) {
		t.Fatalf("expected other IP to be admitted")
	}
	if !limiter.Allow("10.0.0.1:1003", now.Add(time.Second)) {
		t.Fatalf("expected admission after the window refills")
	}
}

func TestIPLimiterDisabled(t *testing.T) {
	limiter := newIPLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("10.0.0.1:1", time.Now()) {
			t.Fatalf("disabled limiter must admit everything")
		}
	}
}
