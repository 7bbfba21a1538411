package scheduler

import "testing"

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("k1") {
			t.Fatalf("expected request %d to be allowed within burst", i)
		}
	}
	if rl.Allow("k1") {
		t.Error("expected burst to be exhausted")
	}
}

func TestRateLimiterPerKeyIndependence(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.Allow("a") {
		t.Fatal("expected first request for key a to be allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("expected key b to have its own independent bucket")
	}
	if rl.Allow("a") {
		t.Error("expected key a's bucket to be exhausted")
	}
}
