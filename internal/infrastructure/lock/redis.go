// Package lock provides a Redis-backed position lock shared by all ledger processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/guard"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var _ guard.Locker = (*RedisLocker)(nil)

// Config tunes the lock.
type Config struct {
	Prefix string
	// TTL bounds how long a crashed holder can block a position.
	TTL time.Duration
	// Wait bounds how long Acquire polls before giving up.
	Wait time.Duration
	// Poll is the pause between attempts.
	Poll time.Duration
}

// RedisLocker implements guard.Locker with SET NX and a token-checked release.
type RedisLocker struct {
	client redis.Cmdable
	script *redis.Script
	cfg    Config
}

// NewRedisLocker creates a locker.
func NewRedisLocker(client redis.Cmdable, cfg Config) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 20 * time.Millisecond
	}
	return &RedisLocker{client: client, script: redis.NewScript(releaseScript), cfg: cfg}
}

// Acquire implements guard.Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	name := l.cfg.Prefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()

	for attempt := 1; ; attempt++ {
		ok, err := l.client.SetNX(waitCtx, name, token, l.cfg.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("lock %s: %w", name, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.script.Run(ctx, l.client, []string{name}, token).Err()
			}, nil
		}

		t := time.NewTimer(l.cfg.Poll)
		select {
		case <-waitCtx.Done():
			t.Stop()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperror.NewConcurrencyConflict(key, attempt).
				WithDetail("lock", name).
				WithCause(waitCtx.Err())
		case <-t.C:
		}
	}
}
