package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// CreateActionLog 记录操作日志
func (s *Store) CreateActionLog(ctx context.Context, log *domain.ActionLog) error {
	err := s.db.WithContext(ctx).Create(log).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return storage.ErrEmailNotFound
	}
	return err
}

// ListActionLogs 按时间倒序返回邮件的操作日志
func (s *Store) ListActionLogs(ctx context.Context, emailID string) ([]domain.ActionLog, error) {
	logs := make([]domain.ActionLog, 0)
	err := s.db.WithContext(ctx).
		Where("email_id = ?", emailID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// CountActions 按类型和时间统计操作数
func (s *Store) CountActions(ctx context.Context, filter domain.ActionCountFilter) (int, error) {
	query := s.db.WithContext(ctx).Model(&domain.ActionLog{})
	if len(filter.Types) > 0 {
		query = query.Where("action_type IN ?", filter.Types)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}

	var n int64
	err := query.Count(&n).Error
	return int(n), err
}

// DailyActionCounts 按天和类型统计 since 之后的操作
//
// 按天分组在 Go 中完成，避免依赖各数据库的日期格式化函数。
func (s *Store) DailyActionCounts(ctx context.Context, since time.Time) ([]domain.DailyActionCount, error) {
	var logs []domain.ActionLog
	err := s.db.WithContext(ctx).
		Select("action_type", "created_at").
		Where("created_at >= ?", since).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return storage.DailyCounts(logs), nil
}

// TopActionIPs 返回操作最多的来源 IP
func (s *Store) TopActionIPs(ctx context.Context, limit int) ([]domain.NamedCount, error) {
	query := s.db.WithContext(ctx).Model(&domain.ActionLog{}).
		Select("user_ip AS name, COUNT(*) AS count").
		Where("user_ip IS NOT NULL AND user_ip <> ''").
		Group("user_ip").
		Order("count DESC").
		Order("user_ip ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	rows := make([]domain.NamedCount, 0)
	err := query.Scan(&rows).Error
	return rows, err
}
