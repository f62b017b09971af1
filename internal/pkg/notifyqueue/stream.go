// Package notifyqueue 基于 Redis Streams 的报告通知队列（outbox），
// 支持消费者组、pending 认领、有限次重试和死信队列。
package notifyqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 默认 Stream 名称。
const DefaultStream = "flighthunter:notify:stream"

const maxStreamLen = 100000

// Stream 封装单个 Redis Stream 的读写。
type Stream struct {
	rdb    *redis.Client
	logger *slog.Logger
	name   string
}

// NewStream 创建 Stream。name 为空时使用 DefaultStream。
func NewStream(rdb *redis.Client, logger *slog.Logger, name string) *Stream {
	if name == "" {
		name = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{rdb: rdb, logger: logger, name: name}
}

// Name 返回 Stream 名称。
func (s *Stream) Name() string { return s.name }

// Publish 追加一条消息。
func (s *Stream) Publish(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.add(ctx, s.name, map[string]interface{}{"data": string(data)})
}

func (s *Stream) add(ctx context.Context, stream string, values map[string]interface{}) error {
	msgID, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	s.logger.Debug("notify message added",
		slog.String("stream", stream),
		slog.String("msg_id", msgID))
	return nil
}

// EnsureGroup 创建消费者组，已存在时忽略。
func (s *Stream) EnsureGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Len 返回 Stream 中的消息数量。
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return n, nil
}
