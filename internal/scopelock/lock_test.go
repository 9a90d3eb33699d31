package scopelock

import (
	"context"
	"errors"
	"testing"

	"horse.fit/dedup/internal/record"
)

func TestLocalLockerExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locker := NewLocalLocker()
	scope := record.Scope{SourceEntityID: 1, ChannelID: 2}

	release, err := locker.Acquire(ctx, "content", scope)
	if err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}
	if _, err := locker.Acquire(ctx, "content", scope); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second Acquire error = %v, want ErrNotAcquired", err)
	}

	other, err := locker.Acquire(ctx, "content", record.Scope{SourceEntityID: 1, ChannelID: 3})
	if err != nil {
		t.Fatalf("expected a different scope to be free: %v", err)
	}
	defer other(ctx)

	urlStage, err := locker.Acquire(ctx, "url", scope)
	if err != nil {
		t.Fatalf("expected a different stage to be free: %v", err)
	}
	defer urlStage(ctx)

	if err := release(ctx); err != nil {
		t.Fatalf("release returned error: %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("second release returned error: %v", err)
	}

	again, err := locker.Acquire(ctx, "content", scope)
	if err != nil {
		t.Fatalf("expected scope to be free after release: %v", err)
	}
	_ = again(ctx)
}

func TestKey(t *testing.T) {
	t.Parallel()

	if got := Key("url", record.Scope{SourceEntityID: 7, ChannelID: 9}); got != "dedup:lock:url:7:9" {
		t.Fatalf("Key = %q", got)
	}
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisClient(context.Background(), "not-a-redis-url"); err == nil {
		t.Fatalf("expected invalid URL to fail")
	}
}

func TestRedisLockerNilClient(t *testing.T) {
	t.Parallel()

	var locker *RedisLocker
	if _, err := locker.Acquire(context.Background(), "url", record.Scope{}); err == nil {
		t.Fatalf("expected nil locker to fail")
	}
}
