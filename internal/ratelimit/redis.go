package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaygate/relaygate/internal/obs"
)

// redisLimiter shares fixed-window counters across ingress instances. One
// INCR per request; the key expires with the window so reset needs no
// bookkeeping.
type redisLimiter struct {
	client *redis.Client
	window Window
}

func newRedisLimiter(addr, password string, db int, w Window) (*redisLimiter, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisLimiter{client: rdb, window: w}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	rkey := "ratelimit:" + key
	count, err := r.client.Incr(ctx, rkey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis incr failed: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, rkey, r.window.Length).Err(); err != nil {
			return Result{}, fmt.Errorf("redis pexpire failed: %w", err)
		}
	}
	retry := r.window.Length
	if ttl, err := r.client.PTTL(ctx, rkey).Result(); err == nil && ttl > 0 {
		retry = ttl
	}
	if retry < time.Second {
		retry = time.Second
	}
	if int(count) > r.window.Max {
		return Result{Allowed: false, Limit: r.window.Max, Remaining: 0, RetryAfter: retry}, nil
	}
	return Result{Allowed: true, Limit: r.window.Max, Remaining: max(r.window.Max-int(count), 0), RetryAfter: retry}, nil
}

// New selects the limiter backend: in-memory unless a Redis address is
// configured.
func New(w Window, redisAddr, redisPassword string, redisDB int) (Limiter, error) {
	if redisAddr == "" {
		obs.Info("ratelimit.backend", obs.Fields{"type": "in-memory"})
		return NewMemory(w), nil
	}
	obs.Info("ratelimit.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	return newRedisLimiter(redisAddr, redisPassword, redisDB, w)
}
