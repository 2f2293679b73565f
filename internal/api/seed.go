package api

import (
	"context"
	"errors"
	"time"

	"github.com/pranith684/TaskFlow/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedDemoData 初始化演示账号数据。
//
// 仅在配置开启时写入，重复执行幂等：账号已存在则跳过，示例任务只在
// 账号没有任何任务时补齐。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if !s.cfg.App.SeedDemo {
		return nil
	}

	const demoEmail = "demo@taskflow.local"
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", demoEmail).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte("demo-tasks"), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		user = model.User{
			Name:     "Demo",
			Email:    demoEmail,
			Password: string(hash),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
	}

	var taskCount int64
	if err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ?", user.ID).
		Count(&taskCount).Error; err != nil {
		return err
	}
	if taskCount > 0 {
		return nil
	}

	tomorrow := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	nextWeek := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Hour)
	samples := []model.Task{
		{UserID: user.ID, Task: "Try out TaskFlow", Status: model.StatusInProgress, Deadline: &tomorrow},
		{UserID: user.ID, Task: "Plan the week", Status: model.StatusPending, Deadline: &nextWeek},
		{UserID: user.ID, Task: "Create an account", Status: model.StatusCompleted},
	}
	return s.db.WithContext(ctx).Create(&samples).Error
}
