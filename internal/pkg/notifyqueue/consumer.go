package notifyqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flighthunter/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// FailureAction 表示失败消息的处理方式。
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

// Handler 处理一条消息。返回错误时消息会被重试或进入死信队列。
type Handler func(ctx context.Context, msg *Message) error

// Delivery 是读取到的一条消息。
type Delivery struct {
	ID      string
	Message *Message
}

// Consumer 以消费者组方式读取通知队列。
type Consumer struct {
	stream       *Stream
	logger       *slog.Logger
	group        string
	consumerID   string
	blockTime    time.Duration
	batchSize    int64
	pendingIdle  time.Duration
	pendingStart string
	deadLetter   string
	maxRetry     int
}

// ConsumerOption 消费者配置选项。
type ConsumerOption func(*Consumer)

// WithBlockTime 设置 XREADGROUP 阻塞时间。
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.blockTime = d }
}

// WithBatchSize 设置单次读取数量。
func WithBatchSize(n int64) ConsumerOption {
	return func(c *Consumer) { c.batchSize = n }
}

// WithPendingIdle 设置 pending 消息被重新认领前的最小空闲时间。
func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.pendingIdle = d }
}

// WithMaxRetry 设置最大重试次数。
func WithMaxRetry(n int) ConsumerOption {
	return func(c *Consumer) { c.maxRetry = n }
}

// NewConsumer 创建消费者并确保消费者组存在。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称（为空使用 DefaultStream）
//   - group: 消费者组名称
//   - consumerID: 消费者唯一标识
//   - opts: 可选配置
func NewConsumer(ctx context.Context, rdb *redis.Client, logger *slog.Logger, streamName, group, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if group == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if consumerID == "" {
		return nil, fmt.Errorf("consumer id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	stream := NewStream(rdb, logger, streamName)
	c := &Consumer{
		stream:       stream,
		logger:       logger,
		group:        group,
		consumerID:   consumerID,
		blockTime:    time.Second,
		batchSize:    10,
		pendingIdle:  time.Minute,
		pendingStart: "0-0",
		deadLetter:   stream.Name() + ":dlq",
		maxRetry:     3,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := stream.EnsureGroup(ctx, group); err != nil {
		return nil, err
	}
	logger.Info("notify consumer ready",
		slog.String("stream", stream.Name()),
		slog.String("group", group),
		slog.String("consumer_id", consumerID))
	return c, nil
}

// DeadLetterStream 返回死信 Stream 名称。
func (c *Consumer) DeadLetterStream() string { return c.deadLetter }

// Read 先认领空闲的 pending 消息，没有时再读取新消息。
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*Delivery, error) {
	messages, next, err := c.stream.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream.name,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if next != "" {
		c.pendingStart = next
	}
	return c.parse(ctx, messages), nil
}

func (c *Consumer) readNew(ctx context.Context) ([]*Delivery, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.name, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}
	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return c.parse(ctx, messages), nil
}

// parse 解析消息；无法解析的消息直接进入死信队列并确认。
func (c *Consumer) parse(ctx context.Context, messages []redis.XMessage) []*Delivery {
	if len(messages) == 0 {
		return nil
	}
	out := make([]*Delivery, 0, len(messages))
	for _, m := range messages {
		data, ok := m.Values["data"].(string)
		if !ok || data == "" {
			c.poison(ctx, m.ID, fmt.Sprintf("%v", m.Values["data"]), "invalid message format")
			continue
		}
		msg, err := parseMessage(data)
		if err != nil {
			c.poison(ctx, m.ID, data, err.Error())
			continue
		}
		out = append(out, &Delivery{ID: m.ID, Message: msg})
	}
	return out
}

// Ack 确认消息。
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := c.stream.rdb.XAck(ctx, c.stream.name, c.group, ids...).Result(); err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	return nil
}

// HandleFailure 未超过最大重试次数时重新入队，否则写入死信队列。两种情况都会确认原消息。
func (c *Consumer) HandleFailure(ctx context.Context, d *Delivery, cause error) (FailureAction, error) {
	if d == nil || d.Message == nil {
		return FailureActionNone, fmt.Errorf("delivery is nil")
	}
	d.Message.Retry++
	if d.Message.Retry > c.maxRetry {
		metrics.NotificationsTotal.WithLabelValues("dlq").Inc()
		if err := c.deadLetterWrite(ctx, d.ID, d.Message, cause); err != nil {
			return FailureActionDLQ, err
		}
		return FailureActionDLQ, c.Ack(ctx, d.ID)
	}
	metrics.NotificationsTotal.WithLabelValues("retry").Inc()
	if err := c.stream.Publish(ctx, d.Message); err != nil {
		return FailureActionRetry, err
	}
	return FailureActionRetry, c.Ack(ctx, d.ID)
}

// Run 持续读取并处理消息，直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		deliveries, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("read notify queue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, d := range deliveries {
			c.process(ctx, d, handle)
		}
		if n, err := c.stream.Len(ctx); err == nil {
			metrics.QueueDepth.WithLabelValues("notify").Set(float64(n))
		}
	}
}

func (c *Consumer) process(ctx context.Context, d *Delivery, handle Handler) {
	err := handle(ctx, d.Message)
	if err == nil {
		if aerr := c.Ack(ctx, d.ID); aerr != nil {
			c.logger.Error("ack notify message failed",
				slog.String("msg_id", d.ID),
				slog.String("error", aerr.Error()))
		}
		return
	}
	action, ferr := c.HandleFailure(ctx, d, err)
	c.logger.Warn("notify message failed",
		slog.String("msg_id", d.ID),
		slog.Uint64("tracker_id", uint64(d.Message.TrackerID)),
		slog.Int("retry", d.Message.Retry),
		slog.String("action", string(action)),
		slog.String("error", err.Error()))
	if ferr != nil {
		c.logger.Error("handle notify failure failed",
			slog.String("msg_id", d.ID),
			slog.String("error", ferr.Error()))
	}
}

func (c *Consumer) poison(ctx context.Context, msgID, payload, reason string) {
	c.logger.Warn("poison notify message",
		slog.String("msg_id", msgID),
		slog.String("reason", reason))
	if err := c.deadLetterWrite(ctx, msgID, payload, errors.New(reason)); err != nil {
		c.logger.Error("publish dead letter failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	metrics.NotificationsTotal.WithLabelValues("dlq").Inc()
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) deadLetterWrite(ctx context.Context, msgID string, payload interface{}, cause error) error {
	raw := payload
	if msg, ok := payload.(*Message); ok {
		if data, err := json.Marshal(msg); err == nil {
			raw = string(data)
		}
	}
	return c.stream.add(ctx, c.deadLetter, map[string]interface{}{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}
