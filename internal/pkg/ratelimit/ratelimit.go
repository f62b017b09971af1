// Package ratelimit 提供基于 Redis 的分布式令牌桶，
// 供多个 worker 进程共享同一个 provider 的调用配额。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"flighthunter/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimitTimeout 表示在 ctx 结束前没有拿到令牌。
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

const keyPrefix = "flighthunter:ratelimit:"

// KEYS[1] 桶；ARGV: rate(token/s), burst, now(ms), requested
// 返回 {allowed, wait_ms, tokens}
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

tokens = math.min(burst, tokens + (math.max(0, now - ts) * rate) / 1000.0)

local wait_ms = 0
local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 2000.0))

return {allowed, wait_ms, tostring(tokens)}
`

// Bucket 是一个具名的分布式令牌桶。
type Bucket struct {
	rdb    *redis.Client
	name   string
	key    string
	rate   float64
	burst  float64
	jitter time.Duration
	logger *slog.Logger
	script *redis.Script
}

// NewBucket 创建令牌桶。rate 或 burst 不大于 0 时 Acquire 直接放行。
//
// 参数:
//
//	rdb: Redis 客户端
//	logger: 日志记录器（可为 nil）
//	name: 桶名称，通常是 provider 名称
//	rate: 每秒补充的令牌数
//	burst: 桶容量
func NewBucket(rdb *redis.Client, logger *slog.Logger, name string, rate, burst float64) *Bucket {
	if name == "" {
		name = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bucket{
		rdb:    rdb,
		name:   name,
		key:    keyPrefix + name,
		rate:   rate,
		burst:  burst,
		jitter: 10 * time.Millisecond,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Name 返回桶名称。
func (b *Bucket) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// Acquire 阻塞直到拿到一个令牌或 ctx 结束。
func (b *Bucket) Acquire(ctx context.Context) error {
	if b == nil || b.rdb == nil || b.rate <= 0 || b.burst <= 0 {
		return nil
	}

	start := time.Now()
	for {
		allowed, waitMs, err := b.take(ctx)
		if err != nil {
			return err
		}
		if allowed {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		wait += time.Duration(rand.Int63n(int64(b.jitter)))
		b.logger.Debug("rate limit wait",
			slog.String("bucket", b.name),
			slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			return fmt.Errorf("%w: %s", ErrRateLimitTimeout, b.name)
		case <-timer.C:
		}
	}
}

// Reset 清空桶状态。
func (b *Bucket) Reset(ctx context.Context) error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Del(ctx, b.key).Err()
}

func (b *Bucket) take(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := b.script.Run(ctx, b.rdb, []string{b.key}, b.rate, b.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
