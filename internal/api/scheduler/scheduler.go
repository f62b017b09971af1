// Package scheduler 定期扫描追踪器，把到期的检查请求推入 Redis 队列，并执行过期与数据保留清理。
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"flighthunter/internal/model"
	"flighthunter/internal/pkg/metrics"
	"flighthunter/internal/pkg/redisqueue"
)

// TrackerSource 是调度器需要的存储接口。
type TrackerSource interface {
	ListSchedulable(ctx context.Context, afterID uint, limit int) ([]model.Tracker, error)
	UpdateTrackerStatus(ctx context.Context, id uint, status model.TrackerStatus, lastCheckedAt *time.Time, lastError string) error
	PurgeObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CheckQueue 是检查请求队列。
type CheckQueue interface {
	PushCheck(ctx context.Context, req *redisqueue.CheckRequest) error
	RescueStuckChecks(ctx context.Context, timeout time.Duration) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// Options 调度器配置。
type Options struct {
	Interval        time.Duration // 扫描间隔
	BatchSize       int           // 单次查询的追踪器数量
	RetentionDays   int           // 观测保留天数（<= 0 表示不清理）
	JanitorInterval time.Duration // 清理间隔
	StuckTimeout    time.Duration // processing 队列中请求被视为卡住的时间
	Clock           func() time.Time
}

// Scheduler 负责把到期的追踪器派发给 worker。
type Scheduler struct {
	store  TrackerSource
	queue  CheckQueue
	logger *slog.Logger
	opts   Options
}

// NewScheduler 创建一个新的调度器实例。
//
// 参数:
//
//	store: 追踪器存储
//	queue: Redis 检查请求队列
//	logger: 日志记录器
//	opts: 调度配置（零值字段使用默认值）
func NewScheduler(store TrackerSource, queue CheckQueue, logger *slog.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = 10 * time.Minute
	}
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = 30 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{store: store, queue: queue, logger: logger, opts: opts}
}

// Run 立即调度一次，然后按间隔循环，直到 ctx 结束。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		slog.String("interval", s.opts.Interval.String()),
		slog.Int("batch_size", s.opts.BatchSize),
		slog.Int("retention_days", s.opts.RetentionDays))

	s.DispatchDue(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	janitor := time.NewTicker(s.opts.JanitorInterval)
	defer janitor.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.DispatchDue(ctx)
		case <-janitor.C:
			s.RunJanitor(ctx)
		}
	}
}

// DispatchDue 按 ID 顺序分批扫描可检查的追踪器：窗口已结束的标记为 EXPIRED，到期的推入队列。
// 返回推送成功的请求数。
func (s *Scheduler) DispatchDue(ctx context.Context) int {
	now := s.opts.Clock().UTC()
	pushed := 0

	var lastID uint
	for {
		if ctx.Err() != nil {
			return pushed
		}
		trackers, err := s.store.ListSchedulable(ctx, lastID, s.opts.BatchSize)
		if err != nil {
			s.logger.Error("failed to load schedulable trackers", slog.String("error", err.Error()))
			return pushed
		}
		if len(trackers) == 0 {
			break
		}
		for i := range trackers {
			t := &trackers[i]
			lastID = t.ID
			if t.WindowElapsed(now) {
				s.expire(ctx, t)
				continue
			}
			if !Due(t, now) {
				continue
			}
			err := s.queue.PushCheck(ctx, redisqueue.NewCheckRequest(t.ID, redisqueue.ReasonSchedule))
			switch {
			case err == nil:
				pushed++
			case errors.Is(err, redisqueue.ErrCheckExists):
				s.logger.Debug("check already queued", slog.Uint64("tracker_id", uint64(t.ID)))
			default:
				s.logger.Warn("push check request failed",
					slog.Uint64("tracker_id", uint64(t.ID)),
					slog.String("error", err.Error()))
			}
		}
		if len(trackers) < s.opts.BatchSize {
			break
		}
	}

	if depth, err := s.queue.Depth(ctx); err == nil {
		s.logger.Debug("dispatch finished", slog.Int("pushed", pushed), slog.Int64("queue_depth", depth))
	}
	return pushed
}

func (s *Scheduler) expire(ctx context.Context, t *model.Tracker) {
	if err := s.store.UpdateTrackerStatus(ctx, t.ID, model.StatusExpired, t.LastCheckedAt, t.LastError); err != nil {
		s.logger.Warn("expire tracker failed",
			slog.Uint64("tracker_id", uint64(t.ID)),
			slog.String("error", err.Error()))
		return
	}
	metrics.TrackersExpired.Inc()
	s.logger.Info("tracker expired", slog.Uint64("tracker_id", uint64(t.ID)))
}

// Due 报告追踪器在 now 时是否需要检查：从未检查过，或按频率计算的下一次时间已到。
func Due(t *model.Tracker, now time.Time) bool {
	if t.LastCheckedAt == nil {
		return true
	}
	schedule, err := model.CadenceParser.Parse(model.CadenceSpec(t.Cadence))
	if err != nil {
		return !t.LastCheckedAt.Add(24 * time.Hour).After(now)
	}
	return !schedule.Next(t.LastCheckedAt.UTC()).After(now)
}

// RunJanitor 放回卡住的检查请求，并删除超过保留期的观测。
func (s *Scheduler) RunJanitor(ctx context.Context) {
	janitorCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	count, err := s.queue.RescueStuckChecks(janitorCtx, s.opts.StuckTimeout)
	if err != nil {
		s.logger.Error("janitor failed to rescue checks", slog.String("error", err.Error()))
	} else if count > 0 {
		s.logger.Info("janitor rescued stuck checks", slog.Int("count", count))
	}

	if s.opts.RetentionDays <= 0 {
		return
	}
	cutoff := s.opts.Clock().UTC().AddDate(0, 0, -s.opts.RetentionDays)
	n, err := s.store.PurgeObservationsBefore(janitorCtx, cutoff)
	if err != nil {
		s.logger.Error("janitor failed to purge observations", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		metrics.ObservationsPurged.Add(float64(n))
		s.logger.Info("janitor purged old observations",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff))
	}
}
