package security

import (
	"context"
	"testing"
	"time"
)

func TestLimiterStore_BurstThenDeny(t *testing.T) {
	s := NewLimiterStore(1, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !s.Allow("10.0.0.1") {
			t.Fatalf("request %d inside burst denied", i)
		}
	}
	if s.Allow("10.0.0.1") {
		t.Error("request above burst allowed")
	}

	// A different client has its own budget.
	if !s.Allow("10.0.0.2") {
		t.Error("fresh client denied")
	}
}

func TestLimiterStore_EmptyIPBucketsTogether(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Minute)

	if !s.Allow("") {
		t.Fatal("first unknown-client request denied")
	}
	if s.Allow("  ") {
		t.Error("unknown clients should share one bucket")
	}
}

func TestFailureTracker_NilRedisFailsOpen(t *testing.T) {
	tracker := NewFailureTracker(nil, 3, time.Minute)
	ctx := context.Background()

	if tracker.Blocked(ctx, "alice", "10.0.0.1") {
		t.Error("tracker without redis must never block")
	}
	// Mutations are no-ops rather than panics.
	tracker.RecordFailure(ctx, "alice", "10.0.0.1")
	tracker.Clear(ctx, "alice", "10.0.0.1")
}
