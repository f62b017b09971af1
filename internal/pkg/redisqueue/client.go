// Package redisqueue 用 Redis List 实现调度器与 worker 之间的检查请求队列。
//
// 待处理的追踪器记录在 pending 集合中，同一追踪器在被确认前只会入队一次。
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"flighthunter/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	KeyCheckQueue           = "flighthunter:queue:checks"
	KeyCheckProcessingQueue = "flighthunter:queue:checks:processing"
	KeyCheckPendingSet      = "flighthunter:queue:checks:pending" // 去重集合
	KeyCheckStartedHash     = "flighthunter:queue:checks:started" // 开始处理时间 (tracker_id -> unix timestamp)
)

// 检查请求来源。
const (
	ReasonSchedule = "schedule"
	ReasonManual   = "manual"
)

var (
	ErrNoCheck     = errors.New("no check request available")
	ErrCheckExists = errors.New("check already queued") // 追踪器已在队列中
)

// CheckRequest 请求 worker 检查一个追踪器。
type CheckRequest struct {
	TrackerID  uint      `json:"tracker_id"`
	Reason     string    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	raw string
}

// NewCheckRequest 创建检查请求。
func NewCheckRequest(trackerID uint, reason string) *CheckRequest {
	return &CheckRequest{TrackerID: trackerID, Reason: reason, EnqueuedAt: time.Now().UTC()}
}

// Client 封装检查队列的 Redis 操作。
type Client struct {
	rdb *redis.Client
}

// NewClient 使用地址和密码创建客户端。
func NewClient(addr, password string) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
		}),
	}
}

// NewClientWithRedis 复用已有的 redis.Client。
func NewClientWithRedis(rdb *redis.Client) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &Client{rdb: rdb}, nil
}

// pushCheckScript 原子性地执行 SADD + LPUSH。
// KEYS[1] = pending set, KEYS[2] = check queue
// ARGV[1] = tracker_id, ARGV[2] = request JSON
// 返回: 1 = 成功推送, 0 = 已在队列中
var pushCheckScript = redis.NewScript(`
	local added = redis.call('SADD', KEYS[1], ARGV[1])
	if added == 0 then
		return 0
	end
	redis.call('LPUSH', KEYS[2], ARGV[2])
	return 1
`)

// PushCheck 把检查请求推入队列。追踪器已在队列中（或正在处理）时返回 ErrCheckExists。
func (c *Client) PushCheck(ctx context.Context, req *CheckRequest) error {
	if req == nil {
		return errors.New("check request is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if req.TrackerID == 0 {
		return errors.New("tracker id is empty")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal check request: %w", err)
	}

	result, err := pushCheckScript.Run(ctx, c.rdb,
		[]string{KeyCheckPendingSet, KeyCheckQueue},
		trackerKey(req.TrackerID), string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("push check script: %w", err)
	}
	if result == 0 {
		metrics.SchedulerDispatched.WithLabelValues("skipped").Inc()
		return ErrCheckExists
	}
	metrics.SchedulerDispatched.WithLabelValues("pushed").Inc()
	return nil
}

// PopCheck 阻塞直到有检查请求或超时，并把请求移入 processing 队列。
func (c *Client) PopCheck(ctx context.Context, timeout time.Duration) (*CheckRequest, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	raw, err := c.rdb.BRPopLPush(ctx, KeyCheckQueue, KeyCheckProcessingQueue, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCheck
	}
	if err != nil {
		return nil, fmt.Errorf("brpoplpush check: %w", err)
	}

	req, err := parseCheckRequest(raw)
	if err != nil {
		// 无法解析的请求直接丢弃，避免阻塞 processing 队列。
		c.rdb.LRem(ctx, KeyCheckProcessingQueue, 1, raw)
		return nil, err
	}
	c.rdb.HSet(ctx, KeyCheckStartedHash, trackerKey(req.TrackerID), time.Now().Unix())
	return req, nil
}

// ackCheckScript 从 processing 队列、pending 集合和 started hash 中移除请求。
// KEYS[1] = processing queue, KEYS[2] = pending set, KEYS[3] = started hash
// ARGV[1] = request JSON, ARGV[2] = tracker_id
var ackCheckScript = redis.NewScript(`
	local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
	redis.call('SREM', KEYS[2], ARGV[2])
	redis.call('HDEL', KEYS[3], ARGV[2])
	return removed
`)

// AckCheck 确认请求已处理完毕，允许追踪器在下一周期再次入队。
func (c *Client) AckCheck(ctx context.Context, req *CheckRequest) error {
	if req == nil {
		return errors.New("check request is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	raw := req.raw
	if raw == "" {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal check request: %w", err)
		}
		raw = string(data)
	}
	if _, err := ackCheckScript.Run(ctx, c.rdb,
		[]string{KeyCheckProcessingQueue, KeyCheckPendingSet, KeyCheckStartedHash},
		raw, trackerKey(req.TrackerID),
	).Int(); err != nil {
		return fmt.Errorf("ack check script: %w", err)
	}
	return nil
}

// Depth 返回等待处理的请求数。
func (c *Client) Depth(ctx context.Context) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}
	n, err := c.rdb.LLen(ctx, KeyCheckQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen checks: %w", err)
	}
	metrics.QueueDepth.WithLabelValues("check_requests").Set(float64(n))
	return n, nil
}

// PendingSetSize 返回尚未确认的追踪器数量。
func (c *Client) PendingSetSize(ctx context.Context) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}
	size, err := c.rdb.SCard(ctx, KeyCheckPendingSet).Result()
	if err != nil {
		return 0, fmt.Errorf("scard pending set: %w", err)
	}
	return size, nil
}

// rescueScript 只有 LREM 成功时才重新 LPUSH，防止多个实例重复入队。
// KEYS[1] = processing queue, KEYS[2] = check queue, KEYS[3] = started hash
// ARGV[1] = request JSON, ARGV[2] = tracker_id
var rescueScript = redis.NewScript(`
	local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
	if removed > 0 then
		redis.call('LPUSH', KEYS[2], ARGV[1])
		redis.call('HDEL', KEYS[3], ARGV[2])
		return 1
	end
	return 0
`)

// RescueStuckChecks 把处理时间超过 timeout 的请求放回队列（例如 worker 崩溃后）。
func (c *Client) RescueStuckChecks(ctx context.Context, timeout time.Duration) (int, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}
	started, err := c.rdb.HGetAll(ctx, KeyCheckStartedHash).Result()
	if err != nil {
		return 0, fmt.Errorf("hgetall started: %w", err)
	}
	processing, err := c.rdb.LRange(ctx, KeyCheckProcessingQueue, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("lrange processing: %w", err)
	}
	if len(processing) == 0 {
		for id := range started {
			c.rdb.HDel(ctx, KeyCheckStartedHash, id)
		}
		return 0, nil
	}

	now := time.Now().Unix()
	threshold := int64(timeout.Seconds())
	rescued := 0
	for _, raw := range processing {
		req, err := parseCheckRequest(raw)
		if err != nil {
			continue
		}
		id := trackerKey(req.TrackerID)
		since := req.EnqueuedAt.Unix()
		if v, ok := started[id]; ok {
			if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
				since = ts
			}
		}
		if now-since <= threshold {
			continue
		}
		result, err := rescueScript.Run(ctx, c.rdb,
			[]string{KeyCheckProcessingQueue, KeyCheckQueue, KeyCheckStartedHash},
			raw, id,
		).Int()
		if err == nil && result == 1 {
			rescued++
		}
	}
	return rescued, nil
}

// RemoveFromPendingSet 在删除追踪器时清理残留。
func (c *Client) RemoveFromPendingSet(ctx context.Context, trackerID uint) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	return c.rdb.SRem(ctx, KeyCheckPendingSet, trackerKey(trackerID)).Err()
}

func parseCheckRequest(raw string) (*CheckRequest, error) {
	var req CheckRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("unmarshal check request: %w", err)
	}
	if req.TrackerID == 0 {
		return nil, errors.New("check request missing tracker id")
	}
	req.raw = raw
	return &req, nil
}

func trackerKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
