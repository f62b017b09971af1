package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flighthunter/internal/model"

	"github.com/redis/go-redis/v9"
)

const submitKeyPrefix = "flighthunter:dedup:tracker:"

// DefaultSubmitWindow 相同创建请求被视为重复提交的时间窗口。
const DefaultSubmitWindow = 10 * time.Second

// TrackerSignature 返回追踪器搜索条件的规范化签名。
//
// 名称、提醒阈值和通知开关不参与签名：只要搜索条件相同即视为同一请求。
func TrackerSignature(t *model.Tracker) string {
	return strings.Join([]string{
		strconv.FormatUint(uint64(t.OwnerID), 10),
		strings.Join(t.Departures, ","),
		strings.Join(t.Destinations, ","),
		strconv.Itoa(t.DepartureRadiusKm),
		model.TruncateDay(t.WindowStart).Format(time.DateOnly),
		model.TruncateDay(t.WindowEnd).Format(time.DateOnly),
		strconv.Itoa(t.TripDays),
		t.Flexibility.String(),
		string(t.Cabin),
		string(t.Luggage),
		strconv.Itoa(t.Passengers),
	}, "|")
}

// Deduplicator 拦截短时间内重复提交的追踪器创建请求（如客户端重试、双击）。
type Deduplicator struct {
	rdb    *redis.Client
	window time.Duration
}

// NewDeduplicator 创建去重器。window <= 0 时使用 DefaultSubmitWindow。
func NewDeduplicator(rdb *redis.Client, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultSubmitWindow
	}
	return &Deduplicator{rdb: rdb, window: window}
}

// IsDuplicate 登记签名。窗口内首次出现返回 false，再次出现返回 true。
func (d *Deduplicator) IsDuplicate(ctx context.Context, signature string) (bool, error) {
	if d == nil || d.rdb == nil || signature == "" {
		return false, nil
	}
	claimed, err := d.rdb.SetNX(ctx, submitKey(signature), time.Now().Unix(), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("claim tracker signature: %w", err)
	}
	return !claimed, nil
}

// Delete 释放签名。创建失败或追踪器被删除后调用，使相同请求可以再次提交。
func (d *Deduplicator) Delete(ctx context.Context, signature string) error {
	if d == nil || d.rdb == nil || signature == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, submitKey(signature)).Err(); err != nil {
		return fmt.Errorf("release tracker signature: %w", err)
	}
	return nil
}

func submitKey(signature string) string {
	return submitKeyPrefix + hashString(signature)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
