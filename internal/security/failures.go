package security

import (
	"context"
	"fmt"
	"time"

	"nepojang/internal/redis"
)

// FailureTracker counts failed credential checks per username+IP in redis so
// repeated guessing trips the 429 path. Counters expire on their own; a
// successful login clears them immediately.
type FailureTracker struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewFailureTracker(client *redis.Client, limit int, window time.Duration) *FailureTracker {
	return &FailureTracker{redis: client, limit: int64(limit), window: window}
}

func (t *FailureTracker) key(username, ip string) string {
	return fmt.Sprintf("authfail:%s:%s", username, ip)
}

// Blocked reports whether the pair has exhausted its failure budget. Redis
// being unreachable fails open: login availability outranks the counter.
func (t *FailureTracker) Blocked(ctx context.Context, username, ip string) bool {
	if t == nil || t.redis == nil {
		return false
	}
	n, err := t.redis.GetInt(ctx, t.key(username, ip))
	if err != nil {
		return false
	}
	return n >= t.limit
}

// RecordFailure bumps the counter and refreshes its expiry window.
func (t *FailureTracker) RecordFailure(ctx context.Context, username, ip string) {
	if t == nil || t.redis == nil {
		return
	}
	_, _ = t.redis.Increment(ctx, t.key(username, ip), t.window)
}

// Clear forgets the counter after a successful login.
func (t *FailureTracker) Clear(ctx context.Context, username, ip string) {
	if t == nil || t.redis == nil {
		return
	}
	_ = t.redis.Del(ctx, t.key(username, ip))
}
