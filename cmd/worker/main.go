package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flighthunter/internal/alert"
	"flighthunter/internal/config"
	"flighthunter/internal/geo"
	"flighthunter/internal/pkg/logger"
	"flighthunter/internal/pkg/notify"
	"flighthunter/internal/pkg/notifyqueue"
	"flighthunter/internal/pkg/queue"
	"flighthunter/internal/pkg/ratelimit"
	"flighthunter/internal/pkg/redisqueue"
	"flighthunter/internal/pkg/tracing"
	"flighthunter/internal/provider"
	"flighthunter/internal/store"
	"flighthunter/internal/tracker"
	"flighthunter/internal/worker"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是检查 worker 的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志、链路追踪
// 2. 连接 MySQL 与 Redis，构建数据源和检查服务
// 3. 启动 worker 池、Redis 拉取循环、通知消费者与 Metrics 服务
// 4. 优雅关闭
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "flighthunter-worker",
		Environment: cfg.App.Env,
	})
	if err != nil {
		appLogger.Warn("init tracing failed", slog.String("error", err.Error()))
	}

	gdb, err := store.Open(cfg.MySQL.DSN)
	if err != nil {
		appLogger.Error("open database failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	db := store.New(gdb)
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("ping redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	checks, err := redisqueue.NewClientWithRedis(rdb)
	if err != nil {
		appLogger.Error("init check queue failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	directory := geo.NewStaticDirectory()
	providers := provider.Build(provider.Options{
		Config:    cfg.Providers,
		Limiter:   ratelimit.NewBucket(rdb, appLogger, string(provider.KindTequila), cfg.Providers.RateLimit, cfg.Providers.RateBurst),
		Directory: directory,
		Logger:    appLogger,
	})
	appLogger.Info("providers configured", slog.Any("providers", provider.Names(providers)))

	checker := tracker.NewService(db, tracker.Config{
		Providers:       providers,
		ProviderTimeout: cfg.App.ProviderTimeout,
		TopN:            cfg.App.ReportTopN,
		Directory:       directory,
		Logger:          appLogger,
	})
	producer := notifyqueue.NewProducer(rdb, appLogger, cfg.App.NotifyStream)
	dispatcher := tracker.NewDispatcher(producer, db, alert.NewGuard(rdb, alert.DefaultGuardTTL), appLogger)

	pool := queue.NewQueue(appLogger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity, cfg.App.CheckTimeout)
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pool.Start(poolCtx)

	service := worker.NewService(checks, checker, dispatcher, pool, appLogger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		defer func() {
			if r := recover(); r != nil {
				appLogger.Error("PANIC in check worker loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()
		if err := service.StartWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("check worker loop stopped", slog.String("error", err.Error()))
		}
	}()

	notifier := notify.NewEmailNotifier(&cfg.Email, appLogger)
	consumer, err := notifyqueue.NewConsumer(ctx, rdb, appLogger, cfg.App.NotifyStream, cfg.App.NotifyGroup, "worker-"+uuid.NewString())
	if err != nil {
		appLogger.Error("init notify consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		if err := consumer.Run(ctx, worker.NotifyHandler(notifier)); err != nil {
			appLogger.Error("notify consumer stopped", slog.String("error", err.Error()))
		}
	}()

	metricsServer := &http.Server{
		Addr:              cfg.App.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info("worker metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down worker...")

	// 1. 停止拉取新请求
	<-workerDone
	<-notifyDone

	// 2. 等待已入队的检查完成
	if err := pool.Shutdown(cfg.App.CheckTimeout + 5*time.Second); err != nil {
		appLogger.Error("worker pool shutdown error", slog.String("error", err.Error()))
	}
	stopPool()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}

	s := service.Stats()
	appLogger.Info("worker stopped gracefully",
		slog.Int64("received", s.Received),
		slog.Int64("checked", s.Checked),
		slog.Int64("failed", s.Failed),
		slog.Int64("notified", s.Notified),
		slog.String("pool", pool.String()))
}
