package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisScopeLock is a distributed advisory lock for the Version
// Registry's per-scope serialization, for deployments running more
// than one Core process. It is adapted from the teacher's
// infrastructure/cache/redis.go client — here repurposed from response
// caching (which the Core does not do) into a SET NX PX advisory lock.
type RedisScopeLock struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisScopeLock creates a lock backed by the given Redis client.
// ttl bounds how long a lock can be held before it auto-expires (so a
// crashed holder cannot wedge a scope forever); retry is the poll
// interval while waiting to acquire.
func NewRedisScopeLock(client *redis.Client, ttl, retry time.Duration) *RedisScopeLock {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &RedisScopeLock{client: client, ttl: ttl, retry: retry}
}

// Lock implements version.ScopeLocker using SET key token NX PX ttl,
// spinning on retry until acquired or ctx is cancelled. The release
// function only deletes the key if it still holds our token, so a
// lock that outlived its TTL and was taken by someone else is not torn
// down out from under them.
func (l *RedisScopeLock) Lock(ctx context.Context, scopeKey string) (func(), error) {
	key := "uprl:scope-lock:" + scopeKey
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scope lock SETNX: %w", err)
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if held, _ := l.client.Get(releaseCtx, key).Result(); held == token {
					l.client.Del(releaseCtx, key)
				}
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
