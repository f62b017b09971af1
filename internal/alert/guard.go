package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const guardKeyPrefix = "flighthunter:alert:last:"

// DefaultGuardTTL 上次提醒价格的保留时间。
const DefaultGuardTTL = 14 * 24 * time.Hour

// KEYS[1] 上次提醒价格；ARGV: price, ttl(ms)
// 没有记录或新价格严格更低时写入并返回 1，否则返回 0。
const recordLua = `
local last = tonumber(redis.call("GET", KEYS[1]))
local price = tonumber(ARGV[1])
if last ~= nil and price >= last then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`

// Guard 记录每个追踪器最近一次提醒的价格，避免同一价格反复提醒。
//
// Check 只读；提醒真正发出后再调用 Record 写入价格。
type Guard struct {
	rdb    *redis.Client
	ttl    time.Duration
	script *redis.Script
}

// NewGuard 创建提醒去重器。ttl <= 0 时使用 DefaultGuardTTL。
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &Guard{rdb: rdb, ttl: ttl, script: redis.NewScript(recordLua)}
}

// Check 判断 price 是否值得提醒：没有记录，或严格低于上次提醒的价格。
func (g *Guard) Check(ctx context.Context, trackerID uint, price float64) (bool, error) {
	if g == nil || g.rdb == nil {
		return true, nil
	}
	raw, err := g.rdb.Get(ctx, guardKey(trackerID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("alert guard check: %w", err)
	}
	last, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return true, nil
	}
	return roundTo(price, 2) < last, nil
}

// Record 记录已发出提醒的价格。只在没有记录或价格更低时写入。
func (g *Guard) Record(ctx context.Context, trackerID uint, price float64) error {
	if g == nil || g.rdb == nil {
		return nil
	}
	err := g.script.Run(ctx, g.rdb, []string{guardKey(trackerID)},
		strconv.FormatFloat(price, 'f', 2, 64), g.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("alert guard record: %w", err)
	}
	return nil
}

// Reset 清除追踪器的提醒记录。
func (g *Guard) Reset(ctx context.Context, trackerID uint) error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Del(ctx, guardKey(trackerID)).Err()
}

func guardKey(trackerID uint) string {
	return guardKeyPrefix + strconv.FormatUint(uint64(trackerID), 10)
}
