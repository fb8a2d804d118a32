/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// Lease TTL bounds how long a crashed holder blocks a technician-day.
	defaultLockTTL = 30 * time.Second

	defaultRetryInterval = 25 * time.Millisecond
)

// Only delete keys we still own.
var releaseScript = redis.NewScript(`
local released = 0
for i, key in ipairs(KEYS) do
	if redis.call("get", key) == ARGV[1] then
		released = released + redis.call("del", key)
	end
end
return released
`)

// RedisLocker holds technician-day locks as Redis keys with a per-lease token.
type RedisLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	logger        zerolog.Logger
}

// RedisConfig configures the Redis locker.
type RedisConfig struct {
	TTL           time.Duration
	RetryInterval time.Duration
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig, logger zerolog.Logger) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultLockTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &RedisLocker{
		client:        client,
		ttl:           cfg.TTL,
		retryInterval: cfg.RetryInterval,
		logger:        logger.With().Str("component", "redis_locker").Logger(),
	}
}

// Backend implements Locker.
func (r *RedisLocker) Backend() string { return "redis" }

// Acquire implements Locker. Keys are taken in sorted order; on any miss the keys
// taken so far are released and the attempt restarts after a short wait.
func (r *RedisLocker) Acquire(ctx context.Context, keys []string, timeout time.Duration) (Lease, error) {
	keys = normalize(keys)
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		held, err := r.tryAcquire(ctx, keys, token)
		if err != nil {
			return nil, err
		}
		if held {
			return &redisLease{locker: r, keys: prefixed(keys), token: token}, nil
		}

		if time.Now().Add(r.retryInterval).After(deadline) {
			r.logger.Debug().Strs("keys", keys).Dur("timeout", timeout).Msg("lock wait timed out")
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryInterval):
		}
	}
}

func (r *RedisLocker) tryAcquire(ctx context.Context, keys []string, token string) (bool, error) {
	taken := make([]string, 0, len(keys))
	for _, k := range keys {
		ok, err := r.client.SetNX(ctx, keyPrefix+k, token, r.ttl).Result()
		if err != nil {
			r.release(context.WithoutCancel(ctx), taken, token)
			return false, fmt.Errorf("set lock %s: %w", k, err)
		}
		if !ok {
			r.release(context.WithoutCancel(ctx), taken, token)
			return false, nil
		}
		taken = append(taken, keyPrefix+k)
	}
	return true, nil
}

func (r *RedisLocker) release(ctx context.Context, keys []string, token string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, keys, token).Err(); err != nil {
		r.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to release locks")
		return fmt.Errorf("release locks: %w", err)
	}
	return nil
}

func prefixed(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = keyPrefix + k
	}
	return out
}

type redisLease struct {
	locker *RedisLocker
	keys   []string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	return l.locker.release(ctx, l.keys, l.token)
}
