package engine

import (
	"testing"
	"time"
)

func testBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker("test-provider", threshold, cooldown, nil)
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	return b, &current
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open after reaching the threshold")
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
}

func TestBreakerHalfOpenProbeAfterCooldown(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	*clock = clock.Add(61 * time.Second)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, probe should be admitted")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed after successful probe", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker must admit")
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b, clock := testBreaker(1, time.Minute)

	b.RecordFailure()
	*clock = clock.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe should be admitted")
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want reopened", b.State())
	}
	if b.Allow() {
		t.Fatal("freshly reopened breaker must not admit")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(2, time.Minute)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("failure count should have been reset by the success")
	}
}
