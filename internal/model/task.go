package model

import "time"

// 任务状态的约定取值。存储层不做强约束，未知状态只计入总数统计。
const (
	StatusPending    = "Pending"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

// Task 表示一条待办任务。
//
// 每条任务在创建时绑定所属用户，之后不可转移。所有读写都必须带上
// user_id 条件，跨用户访问在存储层就不可能发生。
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"` // 任务唯一标识
	CreatedAt time.Time `json:"created_at"`           // 创建时间
	UpdatedAt time.Time `json:"updated_at"`           // 更新时间

	UserID uint `gorm:"not null;index" json:"user_id"` // 所属用户 ID
	User   User `gorm:"foreignKey:UserID" json:"-"`    // 所属用户

	Task     string     `gorm:"not null" json:"task"`                    // 任务描述
	Status   string     `gorm:"type:varchar(32);not null" json:"status"` // 任务状态: Pending / In Progress / Completed
	Deadline *time.Time `json:"deadline"`                                // 截止时间（可为空）
}
