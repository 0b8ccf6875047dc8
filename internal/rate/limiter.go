// Package rate implements a fixed-window request limiter over Redis counters.
package rate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"anonpair/backend/internal/faults"
)

// WindowStore counts hits inside a rolling fixed window.
type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter allows up to limit hits per window per key and reports the advisory
// wait once a caller runs over.
type Limiter struct {
	store  WindowStore
	limit  int
	window time.Duration
}

func NewLimiter(store WindowStore, limit int, window time.Duration) *Limiter {
	if limit < 0 {
		limit = 0
	}
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow counts one hit and returns faults.ErrRateLimited (with retry-after)
// once the caller exceeds the window's budget. A zero limit disables the
// limiter.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l.limit == 0 || l.store == nil {
		return nil
	}

	count, ttl, err := l.store.IncrementWindow(ctx, key, l.window)
	if err != nil {
		return err
	}
	if count > int64(l.limit) {
		if ttl <= 0 {
			ttl = l.window
		}
		return faults.RateLimited(ttl)
	}
	return nil
}

// RedisWindowStore backs the limiter with INCR + first-hit EXPIRE.
type RedisWindowStore struct {
	Client *redis.Client
}

func NewRedisWindowStore(client *redis.Client) *RedisWindowStore {
	return &RedisWindowStore{Client: client}
}

func (s *RedisWindowStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := s.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := s.Client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
	}

	ttl, err := s.Client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	return count, ttl, nil
}
