// Package scopelock serializes fuzzy deduplication per (source entity,
// channel) scope across workers and processes.
package scopelock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"horse.fit/dedup/internal/record"
)

// ErrNotAcquired means another holder owns the scope right now.
var ErrNotAcquired = errors.New("scope lock held by another worker")

// Release gives the lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, stage string, scope record.Scope) (Release, error)
}

// LocalLocker guards scopes within a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, stage string, scope record.Scope) (Release, error) {
	key := Key(stage, scope)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrNotAcquired
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// releaseScript deletes the key only while it still carries our token, so
// an expired lease never frees a lock someone else took over.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease with a TTL so a crashed worker cannot block a
// scope for longer than ttl.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, stage string, scope record.Scope) (Release, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("redis locker is not initialized")
	}

	key := Key(stage, scope)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var releaseErr error
		once.Do(func() {
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				releaseErr = fmt.Errorf("release %s: %w", key, err)
			}
		})
		return releaseErr
	}, nil
}

// Key is the lock name for one stage of one scope.
func Key(stage string, scope record.Scope) string {
	return fmt.Sprintf("dedup:lock:%s:%d:%d", stage, scope.SourceEntityID, scope.ChannelID)
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
