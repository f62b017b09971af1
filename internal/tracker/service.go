// Package tracker 执行一次追踪器检查：并发调用各 provider，合并去重后写入一个新批次，
// 再与上一批次比较得出提醒判定和报告。
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"flighthunter/internal/alert"
	"flighthunter/internal/geo"
	"flighthunter/internal/model"
	"flighthunter/internal/pkg/dedup"
	"flighthunter/internal/pkg/metrics"
	"flighthunter/internal/provider"
	"flighthunter/internal/search"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 检查阶段，用于 CheckError.Stage。
const (
	StageLoad    = "load"
	StagePersist = "persist"
	StageUpdate  = "update"
)

const (
	defaultProviderTimeout = 45 * time.Second
	defaultTopN            = 5
	maxLastErrorLen        = 500
)

// Store 是检查流程依赖的存储接口。
type Store interface {
	LoadTracker(ctx context.Context, id uint) (*model.Tracker, error)
	InsertObservations(ctx context.Context, obs []model.FlightObservation) error
	// UpdateTrackerStatus 只改写 ACTIVE/ERROR 状态的追踪器，检查期间被暂停的追踪器保持不变。
	UpdateTrackerStatus(ctx context.Context, id uint, status model.TrackerStatus, lastCheckedAt *time.Time, lastError string) error
	LoadLatestBatches(ctx context.Context, trackerID uint, n int) ([]model.Batch, error)
}

// Config 是 Service 的显式依赖。
type Config struct {
	Providers       []provider.Provider
	ProviderTimeout time.Duration
	TopN            int
	Directory       geo.Directory
	Clock           func() time.Time
	Logger          *slog.Logger
}

// CheckError 表示检查流程本身失败（不是单个 provider 失败）。
type CheckError struct {
	TrackerID uint
	Stage     string
	Err       error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check tracker %d: %s: %v", e.TrackerID, e.Stage, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// ProviderOutcome 是单个 provider 在一次检查中的结果。
type ProviderOutcome struct {
	Provider string
	Offers   int
	Err      error
	Duration time.Duration
}

// Result 是一次检查的结果。
type Result struct {
	TrackerID  uint
	Tracker    *model.Tracker
	Skipped    bool
	SkipReason string

	CheckedAt time.Time
	Persisted int // 写入的观测数
	Collapsed int // 同批次合并掉的重复报价数
	Discarded int // 不满足基本约束被丢弃的报价数
	Providers []ProviderOutcome

	Decision alert.Decision
	Report   *alert.Report
}

// Service 执行追踪器检查。不同追踪器的检查之间没有共享的可变状态。
type Service struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService 创建检查服务。
func NewService(store Store, cfg Config) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.Directory == nil {
		cfg.Directory = geo.NewStaticDirectory()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger,
		tracer: otel.Tracer("flighthunter/tracker"),
	}
}

// CheckTracker 对一个追踪器执行完整检查。
//
// 流程: 加载 → 校验状态 → 构建请求 → 并发查询 → 合并 → 去重 → 写入 → 更新状态 → 评估提醒。
//
// PAUSED / EXPIRED 追踪器直接跳过（Result.Skipped），不调用 provider，也不修改最后检查时间。
// 日期窗口已结束的追踪器会被标记为 EXPIRED。所有 provider 都失败时仍视为一次成功的检查，
// 只是不写入任何观测。ctx 在合并前被取消时不写入任何数据，并返回 ctx 的错误。
func (s *Service) CheckTracker(ctx context.Context, id uint) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "tracker.check", trace.WithAttributes(attribute.Int64("tracker.id", int64(id))))
	defer span.End()
	defer func() {
		metrics.CheckDuration.Observe(time.Since(start).Seconds())
	}()

	t, err := s.store.LoadTracker(ctx, id)
	if err != nil {
		metrics.CheckTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "load tracker")
		return nil, &CheckError{TrackerID: id, Stage: StageLoad, Err: err}
	}
	res := &Result{TrackerID: id, Tracker: t}
	logger := s.logger.With(slog.Uint64("tracker_id", uint64(id)))

	if !t.Checkable() {
		logger.Info("tracker check skipped", slog.String("status", string(t.Status)))
		res.Skipped = true
		res.SkipReason = "status " + string(t.Status)
		metrics.CheckTotal.WithLabelValues("skipped").Inc()
		return res, nil
	}

	now := s.cfg.Clock()
	if t.WindowElapsed(now) {
		if err := s.store.UpdateTrackerStatus(ctx, id, model.StatusExpired, t.LastCheckedAt, ""); err != nil {
			return nil, s.fail(ctx, t, StageUpdate, err)
		}
		t.Status = model.StatusExpired
		metrics.TrackersExpired.Inc()
		metrics.CheckTotal.WithLabelValues("skipped").Inc()
		logger.Info("tracker window elapsed, marked expired",
			slog.String("window_end", t.WindowEnd.Format(time.DateOnly)))
		res.Skipped = true
		res.SkipReason = "window elapsed"
		return res, nil
	}

	req := search.NewRequest(t, s.cfg.Directory, now)
	offers, outcomes := s.fanOut(ctx, req)
	res.Providers = outcomes

	if err := ctx.Err(); err != nil {
		metrics.CheckTotal.WithLabelValues("canceled").Inc()
		logger.Warn("tracker check canceled before merge", slog.String("error", err.Error()))
		span.SetStatus(codes.Error, "canceled")
		return nil, fmt.Errorf("check tracker %d: %w", id, err)
	}

	valid, discarded := sanitize(offers)
	collapsed := dedup.CollapseCheapest(valid)
	res.Discarded = discarded
	res.Collapsed = len(valid) - len(collapsed)
	metrics.OffersCollapsed.Add(float64(res.Collapsed))

	checkedAt := s.cfg.Clock().UTC()
	res.CheckedAt = checkedAt
	newest := &model.Batch{CheckedAt: checkedAt}
	for _, o := range collapsed {
		newest.Observations = append(newest.Observations, o.Observation(id, checkedAt))
	}

	if len(newest.Observations) > 0 {
		if err := s.store.InsertObservations(ctx, newest.Observations); err != nil {
			return nil, s.fail(ctx, t, StagePersist, err)
		}
	}
	res.Persisted = len(newest.Observations)
	metrics.OffersPersisted.Add(float64(res.Persisted))

	if err := s.store.UpdateTrackerStatus(ctx, id, model.StatusActive, &checkedAt, ""); err != nil {
		return nil, s.fail(ctx, t, StageUpdate, err)
	}
	t.Status = model.StatusActive
	t.LastError = ""
	t.LastCheckedAt = &checkedAt

	previous := s.previousBatch(ctx, logger, id, checkedAt)
	res.Decision = alert.Evaluate(t, newest, previous)
	report := alert.Compose(t, newest, res.Decision, s.cfg.TopN)
	res.Report = &report

	if res.Decision.Triggered {
		logger.Info("price alert triggered",
			slog.Float64("cheapest", res.Decision.NewestCheapest),
			slog.String("reason", res.Decision.Reason))
	}
	span.SetAttributes(
		attribute.Int("offers.persisted", res.Persisted),
		attribute.Bool("alert.triggered", res.Decision.Triggered),
	)
	metrics.CheckTotal.WithLabelValues("success").Inc()
	logger.Info("tracker checked",
		slog.Int("persisted", res.Persisted),
		slog.Int("collapsed", res.Collapsed),
		slog.Int("providers", len(outcomes)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// fanOut 并发调用全部 provider，等待全部结束后按 provider 顺序合并结果。
func (s *Service) fanOut(ctx context.Context, req search.Request) ([]model.Offer, []ProviderOutcome) {
	providers := s.cfg.Providers
	results := make([][]model.Offer, len(providers))
	outcomes := make([]ProviderOutcome, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			results[i], outcomes[i] = s.callProvider(ctx, p, req)
		}(i, p)
	}
	wg.Wait()

	var merged []model.Offer
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, outcomes
}

// callProvider 调用单个 provider。任何错误或 panic 都转换为空结果。
func (s *Service) callProvider(ctx context.Context, p provider.Provider, req search.Request) (offers []model.Offer, out ProviderOutcome) {
	name := p.Name()
	out.Provider = name
	start := time.Now()

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	pctx, span := s.tracer.Start(pctx, "provider.search", trace.WithAttributes(attribute.String("provider", name)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			offers = nil
			out.Err = &provider.Error{Provider: name, Op: "search", Err: fmt.Errorf("panic: %v", r)}
			s.logger.Error("provider panic recovered",
				slog.String("provider", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		out.Duration = time.Since(start)
		out.Offers = len(offers)
		metrics.ProviderLatency.WithLabelValues(name).Observe(out.Duration.Seconds())
		if out.Err != nil {
			metrics.ProviderRequests.WithLabelValues(name, "error").Inc()
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, "provider search failed")
			s.logger.Warn("provider search failed",
				slog.Uint64("tracker_id", uint64(req.TrackerID)),
				slog.String("provider", name),
				slog.String("error", out.Err.Error()))
			return
		}
		metrics.ProviderRequests.WithLabelValues(name, "success").Inc()
		span.SetAttributes(attribute.Int("offers", out.Offers))
	}()

	got, err := p.Search(pctx, req)
	if err != nil {
		var perr *provider.Error
		if !errors.As(err, &perr) {
			err = &provider.Error{Provider: name, Op: "search", Err: err}
		}
		out.Err = err
		return nil, out
	}
	return got, out
}

// previousBatch 返回早于当前批次的最近一个批次。加载失败只记录日志。
func (s *Service) previousBatch(ctx context.Context, logger *slog.Logger, id uint, checkedAt time.Time) *model.Batch {
	batches, err := s.store.LoadLatestBatches(ctx, id, 2)
	if err != nil {
		logger.Warn("load previous batch failed", slog.String("error", err.Error()))
		return nil
	}
	for i := range batches {
		if checkedAt.Sub(batches[i].CheckedAt) > model.BatchWindow {
			return &batches[i]
		}
	}
	return nil
}

// fail 把追踪器标记为 ERROR 并返回 CheckError。
func (s *Service) fail(ctx context.Context, t *model.Tracker, stage string, err error) error {
	metrics.CheckTotal.WithLabelValues("error").Inc()
	msg := truncateUTF8(err.Error(), maxLastErrorLen)
	if uerr := s.store.UpdateTrackerStatus(context.WithoutCancel(ctx), t.ID, model.StatusError, t.LastCheckedAt, msg); uerr != nil {
		s.logger.Error("mark tracker error failed",
			slog.Uint64("tracker_id", uint64(t.ID)),
			slog.String("error", uerr.Error()))
	}
	trace.SpanFromContext(ctx).SetStatus(codes.Error, stage)
	s.logger.Error("tracker check failed",
		slog.Uint64("tracker_id", uint64(t.ID)),
		slog.String("stage", stage),
		slog.String("error", msg))
	return &CheckError{TrackerID: t.ID, Stage: stage, Err: err}
}

// truncateUTF8 把 s 截断到最多 n 字节，不拆分多字节字符。
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// sanitize 丢弃价格为负或返程不晚于去程的报价。
func sanitize(offers []model.Offer) ([]model.Offer, int) {
	out := offers[:0:0]
	for _, o := range offers {
		if o.Price < 0 || !model.TruncateDay(o.ReturnDate).After(model.TruncateDay(o.OutboundDate)) {
			continue
		}
		out = append(out, o)
	}
	return out, len(offers) - len(out)
}
