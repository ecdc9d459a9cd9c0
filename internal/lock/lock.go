// Package lock provides a redis-backed mutual exclusion lease so that only one
// scheduler replica runs a tick at a time.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lease.
var ErrNotAcquired = errors.New("lock not acquired")

// release deletes the key only if it still carries our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is something that can hand out leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	client redis.Scripter
	key    string
	token  string
}

type RedisLocker struct {
	client redis.UniversalClient
	token  func() string
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, token: uuid.NewString}
}

// Acquire takes the lease with SET NX PX. It does not wait.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := l.token()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	_, err := release.Run(ctx, l.client, []string{l.key}, l.token).Result()
	l.client = nil
	return err
}

// Noop is used when no redis is configured: every Acquire succeeds.
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (*Lease, error) {
	return &Lease{}, nil
}
