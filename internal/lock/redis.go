package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every replica through Redis.
// A lock is a key set with NX and a PX expiry holding a random token.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisLocker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces lock keys. Default: "cdv:lock:".
	Prefix string
}

// NewRedisLocker connects a locker to Redis.
func NewRedisLocker(opts RedisOptions) *RedisLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisLockerWithClient(rdb, opts.Prefix)
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "cdv:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Key returns the Redis key of a named lock.
func (r *RedisLocker) Key(name string) string {
	return r.prefix + name
}

// TryLock sets the lock key if absent.
func (r *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	err := r.client.SetArgs(ctx, r.Key(name), token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", name, err)
	}
	return &redisLease{locker: r, name: name, token: token}, true, nil
}

// Ping checks connectivity.
func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

type redisLease struct {
	locker *RedisLocker
	name   string
	token  string
}

func (le *redisLease) Name() string { return le.name }

// Release deletes the key if this lease still owns it.
func (le *redisLease) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, le.locker.client, []string{le.locker.Key(le.name)}, le.token).Int64()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", le.name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}
