package model

import "time"

// User 表示系统用户。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`                                // 用户 ID
	Name      string    `gorm:"type:varchar(64);not null" json:"name"`               // 显示名称
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // 邮箱（唯一）
	Password  string    `gorm:"not null" json:"-"`                                   // bcrypt 哈希
	CreatedAt time.Time `json:"created_at"`                                          // 创建时间

	Tasks []Task `gorm:"foreignKey:UserID" json:"-"`
}
