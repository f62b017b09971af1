package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"flighthunter/internal/alert"
	"flighthunter/internal/pkg/metrics"
	"flighthunter/internal/pkg/notifyqueue"
)

// Publisher 把报告交给通知边界。
type Publisher interface {
	Publish(ctx context.Context, msg *notifyqueue.Message) error
}

// Recipients 解析追踪器的通知地址。
type Recipients interface {
	OwnerEmail(ctx context.Context, trackerID uint) (string, error)
}

// AlertGuard 抑制重复的降价提醒。Check 只读，Record 在提醒发出后调用。
type AlertGuard interface {
	Check(ctx context.Context, trackerID uint, price float64) (bool, error)
	Record(ctx context.Context, trackerID uint, price float64) error
}

// Dispatcher 根据检查结果决定是否发布通知。
//
// 规则: 追踪器开启通知，并且
//   - 提醒已触发且通过去重；或
//   - 追踪器没有设置阈值（摘要模式）且批次非空。
type Dispatcher struct {
	publisher  Publisher
	recipients Recipients
	guard      AlertGuard
	logger     *slog.Logger
}

// NewDispatcher 创建 Dispatcher。guard 可为 nil（不去重）。
func NewDispatcher(publisher Publisher, recipients Recipients, guard AlertGuard, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{publisher: publisher, recipients: recipients, guard: guard, logger: logger}
}

// Dispatch 处理一次检查结果，返回是否发布了通知。
func (d *Dispatcher) Dispatch(ctx context.Context, res *Result) (bool, error) {
	if res == nil || res.Skipped || res.Report == nil || res.Tracker == nil {
		return false, nil
	}
	t := res.Tracker
	logger := d.logger.With(slog.Uint64("tracker_id", uint64(t.ID)))
	if !t.NotifyEnabled {
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return false, nil
	}

	decision := res.Decision
	switch {
	case decision.Triggered:
		if d.guard != nil {
			ok, err := d.guard.Check(ctx, t.ID, decision.NewestCheapest)
			if err != nil {
				return false, fmt.Errorf("alert guard: %w", err)
			}
			if !ok {
				metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
				logger.Info("price alert suppressed, already alerted at this price",
					slog.Float64("cheapest", decision.NewestCheapest))
				return false, nil
			}
		}
		metrics.AlertsTotal.WithLabelValues("triggered").Inc()
	case decision.Threshold == alert.ThresholdNone && !res.Report.Empty():
	default:
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return false, nil
	}

	to, err := d.recipients.OwnerEmail(ctx, t.ID)
	if err != nil {
		return false, fmt.Errorf("resolve recipient: %w", err)
	}
	if to == "" {
		logger.Warn("tracker owner has no email, report dropped")
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return false, nil
	}
	if err := d.publisher.Publish(ctx, notifyqueue.NewMessage(to, *res.Report)); err != nil {
		return false, fmt.Errorf("publish report: %w", err)
	}
	if decision.Triggered && d.guard != nil {
		if err := d.guard.Record(ctx, t.ID, decision.NewestCheapest); err != nil {
			logger.Warn("record alerted price failed", slog.String("error", err.Error()))
		}
	}
	return true, nil
}
