// Package synclock provides the lease that keeps sync cycles from several
// processes sharing one remote store from running at the same time.
package synclock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
)

// ErrHeld is returned by Acquire when another holder owns the lease.
var ErrHeld = errors.New("sync lease held by another process")

// Locker hands out the sync lease.
type Locker interface {
	// Acquire takes the lease or fails with ErrHeld. The returned release
	// function gives it back; it is safe to call after the lease expired.
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// Local is a Locker for a single process. Cycles inside one process are
// already serialized by the sync engine, so it always grants the lease.
type Local struct{}

// Acquire implements Locker.
func (Local) Acquire(context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by a Redis key with a TTL.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis connects to redisURL and checks the connection.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, domainerrors.Wrap(err, domainerrors.CodeNetwork, "connect to redis")
	}
	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient creates a Locker from an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		key:    "gallery:sync:lease",
		ttl:    ttl,
	}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeNetwork, "acquire sync lease")
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeNetwork, "release sync lease")
		}
		return nil
	}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
