// Package worker 从 Redis 拉取检查请求交给本地 worker 池执行，并投递通知队列中的报告。
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"flighthunter/internal/alert"
	"flighthunter/internal/pkg/notifyqueue"
	"flighthunter/internal/pkg/queue"
	"flighthunter/internal/pkg/redisqueue"
	"flighthunter/internal/tracker"
)

const (
	popTimeout            = 2 * time.Second
	redisOperationTimeout = 5 * time.Second
	popErrorBackoff       = 200 * time.Millisecond
)

// CheckSource 是检查请求队列。
type CheckSource interface {
	PopCheck(ctx context.Context, timeout time.Duration) (*redisqueue.CheckRequest, error)
	AckCheck(ctx context.Context, req *redisqueue.CheckRequest) error
}

// Checker 执行一次追踪器检查。
type Checker interface {
	CheckTracker(ctx context.Context, id uint) (*tracker.Result, error)
}

// Dispatcher 根据检查结果发布通知。
type Dispatcher interface {
	Dispatch(ctx context.Context, res *tracker.Result) (bool, error)
}

// Pool 执行检查任务。
type Pool interface {
	SubmitWait(ctx context.Context, task queue.Task) error
}

// Service 把 Redis 中的检查请求转换为 worker 池任务。
type Service struct {
	source     CheckSource
	checker    Checker
	dispatcher Dispatcher
	pool       Pool
	logger     *slog.Logger

	stats workerStats
}

type workerStats struct {
	received  atomic.Int64
	duplicate atomic.Int64
	checked   atomic.Int64
	failed    atomic.Int64
	notified  atomic.Int64
}

// Stats 统计信息快照。
type Stats struct {
	Received  int64 // 拉取到的请求数
	Duplicate int64 // 追踪器已在执行而被直接确认的请求数
	Checked   int64 // 完成的检查数
	Failed    int64 // 失败的检查数
	Notified  int64 // 发布的通知数
}

// NewService 创建 worker 服务。dispatcher 可为 nil（不发送通知）。
func NewService(source CheckSource, checker Checker, dispatcher Dispatcher, pool Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:     source,
		checker:    checker,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logger,
	}
}

// StartWorker 循环拉取检查请求，直到 ctx 结束。
//
// 池满时 SubmitWait 阻塞，从而暂停拉取。请求在检查结束后才被确认；
// 进程在执行中退出时，请求留在 processing 队列，由调度器的清理任务重新入队。
func (s *Service) StartWorker(ctx context.Context) error {
	if s.source == nil {
		return errors.New("check source is not initialized")
	}
	s.logger.Info("check worker started")

	for {
		req, err := s.source.PopCheck(ctx, popTimeout)
		if err != nil {
			if errors.Is(err, redisqueue.ErrNoCheck) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				s.logger.Info("check worker stopped")
				return ctx.Err()
			}
			s.logger.Error("pop check request failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(popErrorBackoff):
			}
			continue
		}
		s.stats.received.Add(1)

		err = s.pool.SubmitWait(ctx, s.task(req))
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrInFlight):
			s.stats.duplicate.Add(1)
			s.logger.Debug("check already running, ack duplicate",
				slog.Uint64("tracker_id", uint64(req.TrackerID)))
			s.ack(req)
		default:
			// 请求留在 processing 队列中，等待清理任务重新入队。
			s.logger.Warn("submit check failed",
				slog.Uint64("tracker_id", uint64(req.TrackerID)),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// task 构造检查任务：检查、发布通知、确认请求。
func (s *Service) task(req *redisqueue.CheckRequest) queue.Task {
	return queue.Task{
		TrackerID: req.TrackerID,
		Run: func(ctx context.Context) error {
			defer s.ack(req)
			return s.Process(ctx, req)
		},
	}
}

// Process 执行一次检查并发布通知。
func (s *Service) Process(ctx context.Context, req *redisqueue.CheckRequest) error {
	start := time.Now()
	logger := s.logger.With(
		slog.Uint64("tracker_id", uint64(req.TrackerID)),
		slog.String("reason", req.Reason))

	res, err := s.checker.CheckTracker(ctx, req.TrackerID)
	if err != nil {
		s.stats.failed.Add(1)
		return err
	}
	s.stats.checked.Add(1)
	if res == nil || res.Skipped {
		if res != nil {
			logger.Info("check skipped", slog.String("reason", res.SkipReason))
		}
		return nil
	}
	logger.Info("check completed",
		slog.Int("persisted", res.Persisted),
		slog.Bool("alert", res.Decision.Triggered),
		slog.Duration("duration", time.Since(start)))

	if s.dispatcher == nil {
		return nil
	}
	sent, err := s.dispatcher.Dispatch(ctx, res)
	if err != nil {
		// 观测已写入，通知失败不影响本次检查结果。
		logger.Warn("dispatch notification failed", slog.String("error", err.Error()))
		return nil
	}
	if sent {
		s.stats.notified.Add(1)
	}
	return nil
}

func (s *Service) ack(req *redisqueue.CheckRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOperationTimeout)
	defer cancel()
	if err := s.source.AckCheck(ctx, req); err != nil {
		s.logger.Error("failed to ack check",
			slog.Uint64("tracker_id", uint64(req.TrackerID)),
			slog.String("error", err.Error()))
	}
}

// Stats 返回统计信息快照。
func (s *Service) Stats() Stats {
	return Stats{
		Received:  s.stats.received.Load(),
		Duplicate: s.stats.duplicate.Load(),
		Checked:   s.stats.checked.Load(),
		Failed:    s.stats.failed.Load(),
		Notified:  s.stats.notified.Load(),
	}
}

// Notifier 投递一份报告。
type Notifier interface {
	Send(ctx context.Context, report alert.Report, to string) error
}

// NotifyHandler 把通知队列消息交给 Notifier 投递。
func NotifyHandler(n Notifier) notifyqueue.Handler {
	return func(ctx context.Context, msg *notifyqueue.Message) error {
		return n.Send(ctx, msg.Report, msg.To)
	}
}
