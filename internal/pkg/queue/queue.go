// Package queue 提供执行追踪器检查的内存任务队列与固定 worker 池。
//
// 同一追踪器在排队或执行期间只接受一个任务。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"flighthunter/internal/pkg/metrics"
)

var (
	// ErrClosed 队列已关闭。
	ErrClosed = errors.New("queue is closed")
	// ErrFull 队列已满（非阻塞提交）。
	ErrFull = errors.New("queue is full")
	// ErrInFlight 同一追踪器的检查已在排队或执行中。
	ErrInFlight = errors.New("check already in flight")
)

// Task 表示一次追踪器检查。
type Task struct {
	TrackerID uint
	Run       func(ctx context.Context) error
}

// ErrorHandler 任务失败回调。
type ErrorHandler func(task Task, err error)

// Queue 是带去重的检查任务队列。
type Queue struct {
	logger       *slog.Logger
	workers      int
	timeout      time.Duration
	tasks        chan Task
	errorHandler ErrorHandler

	mu       sync.Mutex
	inflight map[uint]struct{}

	// 优雅关闭
	wg     sync.WaitGroup
	closed atomic.Bool

	stats queueStats
}

type queueStats struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Submitted int64 // 入队任务数
	Succeeded int64 // 成功任务数
	Failed    int64 // 失败任务数（含 panic）
	Rejected  int64 // 因队列满或重复被拒绝的任务数
	Panics    int64 // Panic 次数
}

// NewQueue 创建一个新的检查队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
//   - timeout: 单个任务的超时时间（0 表示不限制）
func NewQueue(logger *slog.Logger, workers, capacity int, timeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		logger:   logger,
		workers:  workers,
		timeout:  timeout,
		tasks:    make(chan Task, capacity),
		inflight: make(map[uint]struct{}),
	}
}

// SetErrorHandler 设置错误处理回调函数。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// Start 启动 worker 池，直到 ctx 被取消或调用 Shutdown。
func (q *Queue) Start(ctx context.Context) {
	metrics.InitMetrics(q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("check worker stopped", slog.Int("worker_id", id))
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			metrics.QueueDepth.WithLabelValues("checks").Set(float64(len(q.tasks)))
			q.execute(ctx, task, id)
		}
	}
}

func (q *Queue) execute(ctx context.Context, task Task, workerID int) {
	defer q.release(task.TrackerID)
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			q.stats.failed.Add(1)
			q.logger.Error("check panic recovered",
				slog.Int("worker_id", workerID),
				slog.Uint64("tracker_id", uint64(task.TrackerID)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	runCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	if err := task.Run(runCtx); err != nil {
		q.stats.failed.Add(1)
		q.logger.Warn("check task failed",
			slog.Int("worker_id", workerID),
			slog.Uint64("tracker_id", uint64(task.TrackerID)),
			slog.String("error", err.Error()))
		if q.errorHandler != nil {
			q.errorHandler(task, err)
		}
		return
	}
	q.stats.succeeded.Add(1)
}

func (q *Queue) reserve(id uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[id]; ok {
		return false
	}
	q.inflight[id] = struct{}{}
	return true
}

func (q *Queue) release(id uint) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

func (q *Queue) validate(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task for tracker %d has no run func", task.TrackerID)
	}
	if q.closed.Load() {
		return ErrClosed
	}
	if !q.reserve(task.TrackerID) {
		q.stats.rejected.Add(1)
		return ErrInFlight
	}
	return nil
}

// Submit 非阻塞提交；队列满时返回 ErrFull。
func (q *Queue) Submit(task Task) error {
	if err := q.validate(task); err != nil {
		return err
	}
	select {
	case q.tasks <- task:
		q.stats.submitted.Add(1)
		return nil
	default:
		q.release(task.TrackerID)
		q.stats.rejected.Add(1)
		q.logger.Warn("check queue full, drop task",
			slog.Uint64("tracker_id", uint64(task.TrackerID)),
			slog.Int("capacity", cap(q.tasks)))
		return ErrFull
	}
}

// SubmitWait 阻塞提交，直到成功或 ctx 结束。
func (q *Queue) SubmitWait(ctx context.Context, task Task) error {
	if err := q.validate(task); err != nil {
		return err
	}
	select {
	case q.tasks <- task:
		q.stats.submitted.Add(1)
		return nil
	case <-ctx.Done():
		q.release(task.TrackerID)
		return ctx.Err()
	}
}

// Shutdown 拒绝新任务，并在 timeout 内等待已入队的任务完成。
func (q *Queue) Shutdown(timeout time.Duration) error {
	if !q.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(q.tasks)
	q.logger.Info("check queue shutdown initiated", slog.String("timeout", timeout.String()))

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("check queue shutdown completed")
		return nil
	case <-time.After(timeout):
		q.logger.Error("check queue shutdown timeout")
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 返回统计信息快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.stats.submitted.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Rejected:  q.stats.rejected.Load(),
		Panics:    q.stats.panics.Load(),
	}
}

// Len 返回待处理任务数。
func (q *Queue) Len() int { return len(q.tasks) }

// Cap 返回队列容量。
func (q *Queue) Cap() int { return cap(q.tasks) }

// String 返回队列的状态描述。
func (q *Queue) String() string {
	s := q.Stats()
	return fmt.Sprintf("CheckQueue[workers=%d, capacity=%d, pending=%d, closed=%v, submitted=%d, succeeded=%d, failed=%d, rejected=%d, panics=%d]",
		q.workers, q.Cap(), q.Len(), q.closed.Load(),
		s.Submitted, s.Succeeded, s.Failed, s.Rejected, s.Panics)
}
