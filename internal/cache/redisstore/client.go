// Package redisstore wraps the Redis operations behind the shared build lock.
package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
)

// ErrNotHeld is returned when a lease expired or was taken over before release.
var ErrNotHeld = errors.New("lease not held")

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithPassword(p string) Option {
	return func(o *redis.Options) { o.Password = p }
}

func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveRedisOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveRedisOp("ping", err, time.Since(start).Seconds())
	return err
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Lease is a held lock on one key. Only the holder's token can release it.
type Lease struct {
	c     *Client
	key   string
	token string
}

func (l *Lease) Key() string { return l.key }

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// TryAcquire sets key with a fresh token if nobody holds it. It returns a nil
// lease and no error when the key is taken.
func (c *Client) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	observability.ObserveRedisOp("lock", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SET NX %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{c: c, key: key, token: token}, nil
}

// Acquire retries TryAcquire every poll until it succeeds or ctx ends.
// onWait runs after each failed attempt; a true result stops waiting without
// a lease, for callers that learn the work was done by the holder.
func (c *Client) Acquire(ctx context.Context, key string, ttl, poll time.Duration, onWait func() bool) (*Lease, error) {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		l, err := c.TryAcquire(ctx, key, ttl)
		if err != nil || l != nil {
			return l, err
		}
		if onWait != nil && onWait() {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Lease) Release(ctx context.Context) error {
	start := time.Now()
	n, err := releaseScript.Run(ctx, l.c.rdb, []string{l.key}, l.token).Int()
	observability.ObserveRedisOp("unlock", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis release %q: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("lease token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
