package render

import (
	"context"
	"time"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/cache/redisstore"
)

type Lease interface {
	Release(ctx context.Context) error
}

// Locker serializes builds of one key across service instances. Lock returns
// a nil lease and no error when done reports that the work already exists.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration, done func() bool) (Lease, error)
}

// RedisLocker backs Locker with a Redis lease.
type RedisLocker struct {
	Client *redisstore.Client
	Poll   time.Duration
}

func (r RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration, done func() bool) (Lease, error) {
	l, err := r.Client.Acquire(ctx, key, ttl, r.Poll, done)
	if err != nil || l == nil {
		return nil, err
	}
	return l, nil
}
