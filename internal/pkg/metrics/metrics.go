package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flighthunter"

var (
	// CheckTotal 按结果统计追踪器检查次数（success / skipped / error / canceled）。
	CheckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracker_checks_total",
		Help:      "Tracker checks by outcome.",
	}, []string{"outcome"})

	// CheckDuration 单次检查耗时。
	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tracker_check_duration_seconds",
		Help:      "Duration of a full tracker check.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// ProviderRequests 按 provider 与结果统计调用次数。
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Provider searches by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ProviderLatency provider 单次搜索耗时。
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_search_duration_seconds",
		Help:      "Latency of a provider search.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// OffersPersisted 写入的观测条数。
	OffersPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_persisted_total",
		Help:      "Flight observations inserted.",
	})

	// OffersCollapsed 同一批次中被合并掉的重复报价数。
	OffersCollapsed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_collapsed_total",
		Help:      "Duplicate offers collapsed within a batch.",
	})

	// AlertsTotal 告警判定结果（triggered / suppressed）。
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Price alerts by result.",
	}, []string{"result"})

	// NotificationsTotal 通知投递结果（published / sent / retry / dlq / skipped）。
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Report notifications by stage.",
	}, []string{"stage"})

	// QueueDepth 队列积压深度。
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Pending items per queue.",
	}, []string{"queue"})

	// SchedulerDispatched 调度器推送的检查请求数（pushed / skipped）。
	SchedulerDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_dispatched_total",
		Help:      "Check requests dispatched by the scheduler.",
	}, []string{"result"})

	// TrackersExpired 因日期窗口结束而过期的追踪器数。
	TrackersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trackers_expired_total",
		Help:      "Trackers moved to EXPIRED.",
	})

	// RateLimitWaitDuration provider 限流等待耗时。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for a provider rate-limit token.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_timeouts_total",
		Help:      "Provider rate-limit waits that timed out.",
	})

	// ObservationsPurged 保留期清理删除的观测条数。
	ObservationsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_purged_total",
		Help:      "Flight observations removed by the retention janitor.",
	})

	// WorkerPoolSize 当前 worker 数。
	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_pool_size",
		Help:      "Configured check worker pool size.",
	})
)

// InitMetrics 设置启动时确定的指标值。
func InitMetrics(workers int) {
	WorkerPoolSize.Set(float64(workers))
}
