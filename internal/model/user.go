package model

import "time"

// User 表示追踪器的所有者。
//
// 用户由外部认证服务签发 JWT，这里只保存用于发送报告的邮箱。
type User struct {
	ID        uint      `gorm:"primaryKey"`                    // 用户 ID（对应 JWT sub）
	Email     string    `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	CreatedAt time.Time // 创建时间

	Trackers []Tracker `gorm:"foreignKey:OwnerID"`
}
