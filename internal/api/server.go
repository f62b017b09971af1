package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flighthunter/internal/alert"
	"flighthunter/internal/api/middleware"
	"flighthunter/internal/api/scheduler"
	"flighthunter/internal/config"
	"flighthunter/internal/model"
	"flighthunter/internal/pkg/dedup"
	"flighthunter/internal/pkg/redisqueue"
	"flighthunter/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	defaultObservationLimit = 100
	maxObservationLimit     = 1000
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、调度器以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *store.Store
	rdb      *redis.Client
	router   *gin.Engine
	sched    *scheduler.Scheduler
	trackers TrackerStore
	checks   CheckQueue
	deduper  Deduper
	alerts   AlertResetter
}

// TrackerStore 是 API 使用的追踪器存储。
type TrackerStore interface {
	CountTrackers(ctx context.Context, ownerID uint) (int64, error)
	CreateTracker(ctx context.Context, t *model.Tracker) error
	ListTrackers(ctx context.Context, ownerID uint) ([]model.Tracker, error)
	GetTracker(ctx context.Context, ownerID, id uint) (*model.Tracker, error)
	SetStatus(ctx context.Context, ownerID, id uint, status model.TrackerStatus) error
	DeleteTracker(ctx context.Context, ownerID, id uint) error
	ListObservations(ctx context.Context, trackerID uint, limit int) ([]model.FlightObservation, error)
	LoadLatestBatches(ctx context.Context, trackerID uint, n int) ([]model.Batch, error)
}

// CheckQueue 接收手动触发的检查请求。
type CheckQueue interface {
	PushCheck(ctx context.Context, req *redisqueue.CheckRequest) error
	RemoveFromPendingSet(ctx context.Context, trackerID uint) error
}

// Deduper 识别短时间内的重复创建请求。
type Deduper interface {
	IsDuplicate(ctx context.Context, signature string) (bool, error)
	Delete(ctx context.Context, signature string) error
}

// AlertResetter 清除追踪器的提醒去重状态。
type AlertResetter interface {
	Reset(ctx context.Context, trackerID uint) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 创建调度器
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	gdb, err := store.Open(cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	db := store.New(gdb)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	checks, err := redisqueue.NewClientWithRedis(rdb)
	if err != nil {
		return nil, err
	}

	sched := scheduler.NewScheduler(db, checks, logger, scheduler.Options{
		Interval:      cfg.App.ScheduleInterval,
		BatchSize:     cfg.App.QueueBatchSize,
		RetentionDays: cfg.App.RetentionDays,
		StuckTimeout:  2 * cfg.App.CheckTimeout,
	})

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		sched:    sched,
		trackers: db,
		checks:   checks,
		deduper:  dedup.NewDeduplicator(rdb, dedup.DefaultSubmitWindow),
		alerts:   alert.NewGuard(rdb, alert.DefaultGuardTTL),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Router 返回 HTTP 处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartScheduler 在后台运行调度器，直到 ctx 结束。
func (s *Server) StartScheduler(ctx context.Context) {
	if s.sched == nil {
		return
	}
	go s.sched.Run(ctx)
}

// Close 释放数据库与 Redis 连接。
func (s *Server) Close() error {
	var errs []error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) buildRouter() *gin.Engine {
	registerValidators(s.logger)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(s.logger), middleware.Tracing("flighthunter-api"))

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	s.registerTrackerRoutes(authed)
	return r
}

func (s *Server) registerTrackerRoutes(g gin.IRoutes) {
	g.POST("/trackers", s.handleCreateTracker)
	g.GET("/trackers", s.handleListTrackers)
	g.GET("/trackers/:id", s.handleGetTracker)
	g.POST("/trackers/:id/pause", s.handlePauseTracker)
	g.POST("/trackers/:id/resume", s.handleResumeTracker)
	g.POST("/trackers/:id/check", s.handleCheckTracker)
	g.GET("/trackers/:id/observations", s.handleListObservations)
	g.GET("/trackers/:id/report", s.handleReport)
	g.DELETE("/trackers/:id", s.handleDeleteTracker)
}

// registerValidators 为 gin 的 validator 注册 iata 标签。
func registerValidators(logger *slog.Logger) {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	if err := v.RegisterValidation("iata", func(fl validator.FieldLevel) bool {
		return model.IsIATA(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
	}); err != nil && logger != nil {
		logger.Warn("register iata validator failed", slog.String("error", err.Error()))
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createTrackerRequest 创建追踪器的请求参数。
type createTrackerRequest struct {
	Name              string   `json:"name" binding:"required,max=191"`
	Departures        []string `json:"departures" binding:"required,min=1,max=20,dive,iata"`
	Destinations      []string `json:"destinations" binding:"required,min=1,max=20,dive,iata"`
	DepartureRadiusKm int      `json:"departure_radius_km" binding:"gte=0,lte=500"`
	WindowStart       string   `json:"window_start" binding:"required"` // YYYY-MM-DD
	WindowEnd         string   `json:"window_end" binding:"required"`   // YYYY-MM-DD
	TripDays          int      `json:"trip_days" binding:"required,gt=0"`
	Flexibility       string   `json:"flexibility"` // EXACT / PLUS_MINUS_1 / PLUS_MINUS_2
	Cabin             string   `json:"cabin"`
	Luggage           string   `json:"luggage"`
	Passengers        int      `json:"passengers" binding:"omitempty,min=1,max=9"`
	Cadence           string   `json:"cadence"` // DAILY / WEEKLY / HOURLY / cron
	AlertPercent      *float64 `json:"alert_percent"`
	AlertAmount       *float64 `json:"alert_amount"`
	NotifyEnabled     *bool    `json:"notify_enabled"`
}

// createTrackerResponse 创建追踪器的响应。
type createTrackerResponse struct {
	ID uint `json:"id"`
}

type trackerResponse struct {
	ID                uint       `json:"id"`
	Name              string     `json:"name"`
	Route             string     `json:"route"`
	Departures        []string   `json:"departures"`
	Destinations      []string   `json:"destinations"`
	DepartureRadiusKm int        `json:"departure_radius_km"`
	WindowStart       string     `json:"window_start"`
	WindowEnd         string     `json:"window_end"`
	TripDays          int        `json:"trip_days"`
	Flexibility       string     `json:"flexibility"`
	Cabin             string     `json:"cabin"`
	Luggage           string     `json:"luggage"`
	Passengers        int        `json:"passengers"`
	Cadence           string     `json:"cadence"`
	AlertPercent      *float64   `json:"alert_percent,omitempty"`
	AlertAmount       *float64   `json:"alert_amount,omitempty"`
	NotifyEnabled     bool       `json:"notify_enabled"`
	Status            string     `json:"status"`
	LastError         string     `json:"last_error,omitempty"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toTrackerResponse(t *model.Tracker) trackerResponse {
	return trackerResponse{
		ID:                t.ID,
		Name:              t.Name,
		Route:             t.Route(),
		Departures:        append([]string{}, t.Departures...),
		Destinations:      append([]string{}, t.Destinations...),
		DepartureRadiusKm: t.DepartureRadiusKm,
		WindowStart:       t.WindowStart.Format(dateLayout),
		WindowEnd:         t.WindowEnd.Format(dateLayout),
		TripDays:          t.TripDays,
		Flexibility:       t.Flexibility.String(),
		Cabin:             string(t.Cabin),
		Luggage:           string(t.Luggage),
		Passengers:        t.Passengers,
		Cadence:           t.Cadence,
		AlertPercent:      t.AlertPercent,
		AlertAmount:       t.AlertAmount,
		NotifyEnabled:     t.NotifyEnabled,
		Status:            string(t.Status),
		LastError:         t.LastError,
		LastCheckedAt:     t.LastCheckedAt,
		CreatedAt:         t.CreatedAt,
	}
}

const dateLayout = "2006-01-02"

// toTracker 把请求转换为追踪器，并补齐默认值。
func (req createTrackerRequest) toTracker(ownerID uint) (*model.Tracker, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(req.WindowStart))
	if err != nil {
		return nil, &model.ValidationError{Field: "window_start", Message: "must be YYYY-MM-DD"}
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(req.WindowEnd))
	if err != nil {
		return nil, &model.ValidationError{Field: "window_end", Message: "must be YYYY-MM-DD"}
	}
	flex, err := model.ParseFlexibility(req.Flexibility)
	if err != nil {
		return nil, &model.ValidationError{Field: "flexibility", Message: err.Error()}
	}

	t := &model.Tracker{
		OwnerID:           ownerID,
		Name:              strings.TrimSpace(req.Name),
		Departures:        model.NormalizeAirports(req.Departures),
		Destinations:      model.NormalizeAirports(req.Destinations),
		DepartureRadiusKm: req.DepartureRadiusKm,
		WindowStart:       start,
		WindowEnd:         end,
		TripDays:          req.TripDays,
		Flexibility:       flex,
		Cabin:             model.Cabin(strings.ToUpper(strings.TrimSpace(req.Cabin))),
		Luggage:           model.Luggage(strings.ToUpper(strings.TrimSpace(req.Luggage))),
		Passengers:        req.Passengers,
		Cadence:           strings.TrimSpace(req.Cadence),
		AlertPercent:      req.AlertPercent,
		AlertAmount:       req.AlertAmount,
		NotifyEnabled:     true,
		Status:            model.StatusActive,
	}
	if t.Cabin == "" {
		t.Cabin = model.CabinEconomy
	}
	if t.Luggage == "" {
		t.Luggage = model.LuggageNone
	}
	if t.Passengers == 0 {
		t.Passengers = 1
	}
	// 预设频率统一保存为大写，cron 表达式原样保存。
	if t.Cadence == "" {
		t.Cadence = "DAILY"
	} else if upper := strings.ToUpper(t.Cadence); model.CadenceSpec(upper) != upper {
		t.Cadence = upper
	}
	if req.NotifyEnabled != nil {
		t.NotifyEnabled = *req.NotifyEnabled
	}
	if err := model.ValidateTracker(t); err != nil {
		return nil, err
	}
	return t, nil
}

// handleCreateTracker 处理创建追踪器的请求。
//
// POST /trackers
func (s *Server) handleCreateTracker(c *gin.Context) {
	var req createTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	t, err := req.toTracker(userID)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := s.trackers.CountTrackers(ctx, userID)
	if err != nil {
		s.logger.Error("count trackers failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count trackers failed"})
		return
	}
	maxTrackers := s.cfg.App.MaxTrackers
	if maxTrackers <= 0 {
		maxTrackers = 20
	}
	if count >= int64(maxTrackers) {
		c.JSON(http.StatusForbidden, gin.H{"error": "tracker limit reached"})
		return
	}

	sig := dedup.TrackerSignature(t)
	if s.deduper != nil {
		dup, err := s.deduper.IsDuplicate(ctx, sig)
		if err != nil {
			s.logger.Warn("dedup check failed", slog.String("error", err.Error()))
		} else if dup {
			c.JSON(http.StatusOK, gin.H{"status": "skipped_duplicate"})
			return
		}
	}

	if err := s.trackers.CreateTracker(ctx, t); err != nil {
		s.logger.Error("create tracker failed", slog.String("error", err.Error()))
		if s.deduper != nil {
			_ = s.deduper.Delete(ctx, sig)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create tracker failed"})
		return
	}

	s.logger.Info("tracker created",
		slog.Uint64("tracker_id", uint64(t.ID)),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("route", t.Route()))

	if s.checks != nil {
		if err := s.checks.PushCheck(ctx, redisqueue.NewCheckRequest(t.ID, redisqueue.ReasonManual)); err != nil &&
			!errors.Is(err, redisqueue.ErrCheckExists) {
			s.logger.Warn("queue initial check failed",
				slog.Uint64("tracker_id", uint64(t.ID)),
				slog.String("error", err.Error()))
		}
	}

	c.JSON(http.StatusCreated, createTrackerResponse{ID: t.ID})
}

// handleListTrackers 返回当前用户的追踪器列表。
func (s *Server) handleListTrackers(c *gin.Context) {
	list, err := s.trackers.ListTrackers(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		s.logger.Error("list trackers failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list trackers failed"})
		return
	}
	out := make([]trackerResponse, 0, len(list))
	for i := range list {
		out = append(out, toTrackerResponse(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetTracker(c *gin.Context) {
	t, ok := s.loadTracker(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toTrackerResponse(t))
}

// handlePauseTracker 暂停追踪器。已过期的追踪器不能暂停。
//
// POST /trackers/:id/pause
func (s *Server) handlePauseTracker(c *gin.Context) {
	t, ok := s.loadTracker(c)
	if !ok {
		return
	}
	switch t.Status {
	case model.StatusPaused:
		c.JSON(http.StatusOK, gin.H{"status": t.Status})
		return
	case model.StatusExpired:
		c.JSON(http.StatusConflict, gin.H{"error": "tracker expired"})
		return
	}
	s.setStatus(c, t, model.StatusPaused)
}

// handleResumeTracker 恢复已暂停的追踪器。
//
// POST /trackers/:id/resume
func (s *Server) handleResumeTracker(c *gin.Context) {
	t, ok := s.loadTracker(c)
	if !ok {
		return
	}
	switch t.Status {
	case model.StatusActive, model.StatusError:
		c.JSON(http.StatusOK, gin.H{"status": t.Status})
		return
	case model.StatusExpired:
		c.JSON(http.StatusConflict, gin.H{"error": "tracker expired"})
		return
	}
	s.setStatus(c, t, model.StatusActive)
}

func (s *Server) setStatus(c *gin.Context, t *model.Tracker, status model.TrackerStatus) {
	if err := s.trackers.SetStatus(c.Request.Context(), t.OwnerID, t.ID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tracker not found"})
			return
		}
		s.logger.Error("update tracker status failed",
			slog.Uint64("tracker_id", uint64(t.ID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update status failed"})
		return
	}
	s.logger.Info("tracker status changed",
		slog.Uint64("tracker_id", uint64(t.ID)),
		slog.String("from", string(t.Status)),
		slog.String("to", string(status)))
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// handleCheckTracker 请求立即检查一次。
//
// POST /trackers/:id/check
func (s *Server) handleCheckTracker(c *gin.Context) {
	t, ok := s.loadTracker(c)
	if !ok {
		return
	}
	if !t.Checkable() {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("tracker is %s", t.Status)})
		return
	}
	err := s.checks.PushCheck(c.Request.Context(), redisqueue.NewCheckRequest(t.ID, redisqueue.ReasonManual))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	case errors.Is(err, redisqueue.ErrCheckExists):
		c.JSON(http.StatusAccepted, gin.H{"status": "already_queued"})
	default:
		s.logger.Error("queue check failed",
			slog.Uint64("tracker_id", uint64(t.ID)),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue check failed"})
	}
}

type observationResponse struct {
	CheckedAt       time.Time `json:"checked_at"`
	Departure       string    `json:"departure"`
	Destination     string    `json:"destination"`
	OutboundDate    string    `json:"outbound_date"`
	ReturnDate      string    `json:"return_date"`
	Price           float64   `json:"price"`
	Currency        string    `json:"currency"`
	Airline         string    `json:"airline"`
	Stops           int       `json:"stops"`
	DurationMinutes int       `json:"duration_minutes"`
	LuggageIncluded bool      `json:"luggage_included"`
	BookingLink     string    `json:"booking_link"`
	Source          string    `json:"source"`
}

// handleListObservations 返回最近的观测记录。
//
// GET /trackers/:id/observations?limit=
func (s *Server) handleListObservations(c *gin.Context) {
	t, ok := s.loadTracker(c)
	if !ok {
		return
	}
	limit := defaultObservationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxObservationLimit)
	}
	obs, err := s.trackers.ListObservations(c.Request.Context(), t.ID, limit)
	if err != nil {
		s.logger.Error("list observations failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list observations failed"})
		return
	}
	out := make([]observationResponse, 0, len(obs))
	for _, o := range obs {
		out = append(out, observationResponse{
			CheckedAt:       o.CheckedAt,
			Departure:       o.Departure,
			Destination:     o.Destination,
			OutboundDate:    o.OutboundDate.Format(dateLayout),
			ReturnDate:      o.ReturnDate.Format(dateLayout),
			Price:           o.Price,
			Currency:        o.Currency,
			Airline:         o.Airline,
			Stops:           o.Stops,
			DurationMinutes: o.DurationMinutes,
			LuggageIncluded: o.LuggageIncluded,
			BookingLink:     o.BookingLink,
			Source:          o.Source,
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleReport 基于最近两个批次重新生成报告（不发送通知）。
//
// GET /trackers/:id/report
func (s *Server) handleReport(c *gin.Context) {
	t, ok := s.loadTracker(c)
	if !ok {
		return
	}
	batches, err := s.trackers.LoadLatestBatches(c.Request.Context(), t.ID, 2)
	if err != nil {
		s.logger.Error("load batches failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load batches failed"})
		return
	}
	var newest, previous *model.Batch
	if len(batches) > 0 {
		newest = &batches[0]
	}
	if len(batches) > 1 {
		previous = &batches[1]
	}
	d := alert.Evaluate(t, newest, previous)
	c.JSON(http.StatusOK, alert.Compose(t, newest, d, s.cfg.App.ReportTopN))
}

// handleDeleteTracker 删除追踪器及其历史，并清理 Redis 中的残留状态。
func (s *Server) handleDeleteTracker(c *gin.Context) {
	t, ok := s.loadTracker(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.trackers.DeleteTracker(ctx, t.OwnerID, t.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tracker not found"})
			return
		}
		s.logger.Error("delete tracker failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete tracker failed"})
		return
	}

	if s.deduper != nil {
		if err := s.deduper.Delete(ctx, dedup.TrackerSignature(t)); err != nil {
			s.logger.Warn("dedup delete failed", slog.String("error", err.Error()))
		}
	}
	if s.alerts != nil {
		if err := s.alerts.Reset(ctx, t.ID); err != nil {
			s.logger.Warn("reset alert guard failed", slog.String("error", err.Error()))
		}
	}
	if s.checks != nil {
		if err := s.checks.RemoveFromPendingSet(ctx, t.ID); err != nil {
			s.logger.Warn("remove pending check failed", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("tracker deleted", slog.Uint64("tracker_id", uint64(t.ID)))
	c.JSON(http.StatusOK, gin.H{"deleted": t.ID})
}

// loadTracker 解析路径中的 ID 并加载当前用户的追踪器；失败时已写入响应。
func (s *Server) loadTracker(c *gin.Context) (*model.Tracker, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tracker id"})
		return nil, false
	}
	t, err := s.trackers.GetTracker(c.Request.Context(), middleware.UserID(c), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tracker not found"})
			return nil, false
		}
		s.logger.Error("load tracker failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load tracker failed"})
		return nil, false
	}
	return t, true
}
