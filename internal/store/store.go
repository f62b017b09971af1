// Package store 基于 GORM 的持久化实现：追踪器、用户与按批次追加的航班观测。
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flighthunter/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// ErrNotFound 表示记录不存在（或不属于当前用户）。
var ErrNotFound = errors.New("record not found")

const insertBatchSize = 200

// Store 实现 tracker.Store 以及 API / 调度器需要的查询。
type Store struct {
	db *gorm.DB
}

// Open 连接 MySQL 并执行自动迁移。
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 创建或更新表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Tracker{}, &model.FlightObservation{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// New 创建 Store。
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping 检查数据库连接。
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// Close 关闭底层连接池。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---- tracker.Store ----

// LoadTracker 按 ID 加载追踪器。
func (s *Store) LoadTracker(ctx context.Context, id uint) (*model.Tracker, error) {
	var t model.Tracker
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// InsertObservations 在一个事务中写入一个批次。
func (s *Store) InsertObservations(ctx context.Context, obs []model.FlightObservation) error {
	if len(obs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(obs, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert observations: %w", err)
		}
		return nil
	})
}

// checkStatuses 检查流程可以改写的状态。
var checkStatuses = []model.TrackerStatus{model.StatusActive, model.StatusError}

// UpdateTrackerStatus 更新状态、最后检查时间和错误信息。
//
// 只改写 ACTIVE 或 ERROR 状态的追踪器。检查期间被暂停或过期的追踪器保持原状态，
// 此时返回 nil；追踪器不存在时返回 ErrNotFound。
func (s *Store) UpdateTrackerStatus(ctx context.Context, id uint, status model.TrackerStatus, lastCheckedAt *time.Time, lastError string) error {
	res := s.db.WithContext(ctx).Model(&model.Tracker{}).
		Where("id = ? AND status IN ?", id, checkStatuses).
		Updates(map[string]interface{}{
			"status":          status,
			"last_checked_at": lastCheckedAt,
			"last_error":      lastError,
		})
	if res.Error != nil {
		return fmt.Errorf("update tracker status: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Tracker{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("update tracker status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadLatestBatches 返回最近的 n 个批次，最新的在前。
//
// 批次由时间戳聚类得到：与批次中最新观测相差不超过 model.BatchWindow 的观测属于同一批次。
func (s *Store) LoadLatestBatches(ctx context.Context, trackerID uint, n int) ([]model.Batch, error) {
	db := s.db.WithContext(ctx)
	var batches []model.Batch

	var cursor *time.Time
	for len(batches) < n {
		var head model.FlightObservation
		q := db.Where("tracker_id = ?", trackerID)
		if cursor != nil {
			q = q.Where("checked_at <= ?", *cursor)
		}
		if err := q.Order("checked_at DESC").First(&head).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, fmt.Errorf("load batch head: %w", err)
		}

		lower := head.CheckedAt.Add(-model.BatchWindow)
		var obs []model.FlightObservation
		if err := db.Where("tracker_id = ? AND checked_at > ? AND checked_at <= ?", trackerID, lower, head.CheckedAt).
			Order("price ASC, id ASC").
			Find(&obs).Error; err != nil {
			return nil, fmt.Errorf("load batch: %w", err)
		}
		batches = append(batches, model.Batch{CheckedAt: head.CheckedAt, Observations: obs})
		cursor = &lower
	}
	return batches, nil
}

// ---- API ----

// CreateTracker 保存新追踪器。
func (s *Store) CreateTracker(ctx context.Context, t *model.Tracker) error {
	return s.db.WithContext(ctx).Create(t).Error
}

// CountTrackers 返回用户的追踪器数量。
func (s *Store) CountTrackers(ctx context.Context, ownerID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Tracker{}).Where("owner_id = ?", ownerID).Count(&n).Error
	return n, err
}

// ListTrackers 返回用户的全部追踪器。
func (s *Store) ListTrackers(ctx context.Context, ownerID uint) ([]model.Tracker, error) {
	var out []model.Tracker
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC").Find(&out).Error
	return out, err
}

// GetTracker 返回属于 ownerID 的追踪器。
func (s *Store) GetTracker(ctx context.Context, ownerID, id uint) (*model.Tracker, error) {
	var t model.Tracker
	if err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// SetStatus 由用户操作（暂停/恢复）修改状态。
func (s *Store) SetStatus(ctx context.Context, ownerID, id uint, status model.TrackerStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Tracker{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTracker 删除追踪器及其全部观测。
func (s *Store) DeleteTracker(ctx context.Context, ownerID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.Tracker
		if err := tx.Select("id").Where("id = ? AND owner_id = ?", id, ownerID).First(&t).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Where("tracker_id = ?", id).Delete(&model.FlightObservation{}).Error; err != nil {
			return fmt.Errorf("delete observations: %w", err)
		}
		if err := tx.Delete(&model.Tracker{}, id).Error; err != nil {
			return fmt.Errorf("delete tracker: %w", err)
		}
		return nil
	})
}

// ListObservations 返回最近的观测，最新批次在前。
func (s *Store) ListObservations(ctx context.Context, trackerID uint, limit int) ([]model.FlightObservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.FlightObservation
	err := s.db.WithContext(ctx).
		Where("tracker_id = ?", trackerID).
		Order("checked_at DESC, price ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ---- 调度器 / Worker ----

// ListSchedulable 按 ID 顺序分批返回可检查（ACTIVE / ERROR）的追踪器。
func (s *Store) ListSchedulable(ctx context.Context, afterID uint, limit int) ([]model.Tracker, error) {
	var out []model.Tracker
	err := s.db.WithContext(ctx).
		Where("id > ? AND status IN ?", afterID, checkStatuses).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OwnerEmail 返回追踪器所属用户的邮箱。
func (s *Store) OwnerEmail(ctx context.Context, trackerID uint) (string, error) {
	var email string
	err := s.db.WithContext(ctx).Table("users").
		Select("users.email").
		Joins("JOIN trackers ON trackers.owner_id = users.id").
		Where("trackers.id = ?", trackerID).
		Limit(1).
		Scan(&email).Error
	if err != nil {
		return "", err
	}
	return email, nil
}

// PurgeObservationsBefore 删除早于 cutoff 的观测，返回删除条数。
func (s *Store) PurgeObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("checked_at < ?", cutoff).Delete(&model.FlightObservation{})
	return res.RowsAffected, res.Error
}

// EnsureUser 按邮箱查找用户，不存在时创建。
func (s *Store) EnsureUser(ctx context.Context, email string) (*model.User, error) {
	u := model.User{Email: email}
	if err := s.db.WithContext(ctx).Where("email = ?", email).FirstOrCreate(&u).Error; err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
