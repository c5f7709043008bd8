package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const defaultPollInterval = 25 * time.Millisecond

// Redis is a Locker shared across service instances. A key is held with
// SET NX PX, refreshed every ttl/3 while held, and released only by the
// token that set it.
type Redis struct {
	client       *redis.Client
	script       *redis.Script
	extend       *redis.Script
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
	log          *zap.Logger
}

func NewRedis(client *redis.Client, ttl, wait time.Duration, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:       client,
		script:       redis.NewScript(releaseScript),
		extend:       redis.NewScript(extendScript),
		ttl:          ttl,
		wait:         wait,
		pollInterval: defaultPollInterval,
		log:          log,
	}
}

func (r *Redis) TryLock(ctx context.Context, key string) (string, bool, error) {
	if r == nil || r.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if r.ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (r *Redis) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return r.script.Run(ctx, r.client, []string{key}, token).Err()
}

// Extend resets the key's ttl if token still owns it.
func (r *Redis) Extend(ctx context.Context, key, token string) (bool, error) {
	n, err := r.extend.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Acquire polls TryLock until the key is taken, ctx ends, or the wait bound passes.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		token, ok, err := r.TryLock(waitCtx, key)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return r.releaser(key, token), nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-ticker.C:
		}
	}
}

// keepAlive refreshes the key until stop is closed or ownership is lost.
func (r *Redis) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := r.ttl / 3
	if interval <= 0 {
		interval = r.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := r.Extend(ctx, key, token)
			cancel()
			if err != nil {
				r.log.Warn("failed to extend lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if !ok {
				r.log.Warn("lock lost before release", zap.String("key", key))
				return
			}
		}
	}
}

// The release runs on a fresh context so an abandoned request still frees the key.
func (r *Redis) releaser(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := r.Release(ctx, key, token); err != nil {
				r.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
