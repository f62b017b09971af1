package notifyqueue

import (
	"context"
	"fmt"
	"log/slog"

	"flighthunter/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Producer 把报告发布到通知队列。
type Producer struct {
	stream *Stream
	logger *slog.Logger
}

// NewProducer 创建生产者。
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName string) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{stream: NewStream(rdb, logger, streamName), logger: logger}
}

// Publish 发布一条消息。
func (p *Producer) Publish(ctx context.Context, msg *Message) error {
	if msg == nil || msg.TrackerID == 0 {
		return fmt.Errorf("invalid notify message")
	}
	if msg.To == "" {
		return fmt.Errorf("notify message for tracker %d has no recipient", msg.TrackerID)
	}
	if err := p.stream.Publish(ctx, msg); err != nil {
		p.logger.Error("publish report failed",
			slog.Uint64("tracker_id", uint64(msg.TrackerID)),
			slog.String("error", err.Error()))
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("published").Inc()
	p.logger.Info("report published",
		slog.Uint64("tracker_id", uint64(msg.TrackerID)),
		slog.Bool("alert", msg.Alert))
	return nil
}

// Backlog 返回队列长度。
func (p *Producer) Backlog(ctx context.Context) (int64, error) {
	return p.stream.Len(ctx)
}
