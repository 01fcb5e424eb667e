package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// CreateUser 创建新用户
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.checkUserUnique(ctx, user); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 并发创建时由唯一索引兜底
		return storage.ErrUsernameExists
	}
	return err
}

// checkUserUnique 检查用户名和邮箱是否被其他用户占用
func (s *Store) checkUserUnique(ctx context.Context, user *domain.User) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&domain.User{}).
		Where("username = ? AND id <> ?", user.Username, user.ID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return storage.ErrUsernameExists
	}

	if err := s.db.WithContext(ctx).Model(&domain.User{}).
		Where("LOWER(email) = ? AND id <> ?", strings.ToLower(user.Email), user.ID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return storage.ErrUserEmailExists
	}
	return nil
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.firstUser(ctx, "id = ?", id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.firstUser(ctx, "LOWER(email) = ?", strings.ToLower(email))
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.firstUser(ctx, "username = ?", username)
}

func (s *Store) firstUser(ctx context.Context, query, arg string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	if err := s.checkUserUnique(ctx, user); err != nil {
		return err
	}

	user.UpdatedAt = time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"username":      user.Username,
			"email":         user.Email,
			"password_hash": user.PasswordHash,
			"full_name":     user.FullName,
			"role":          user.Role,
			"is_active":     user.IsActive,
			"last_login":    user.LastLogin,
			"updated_at":    user.UpdatedAt,
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrUsernameExists
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login": at,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// DeleteUser 删除用户，邮件和日志中的引用置空
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", userID).Delete(&domain.User{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrUserNotFound
		}

		if err := tx.Model(&domain.Email{}).Where("read_by_user_id = ?", userID).
			Update("read_by_user_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Email{}).Where("last_action_user_id = ?", userID).
			Update("last_action_user_id", nil).Error; err != nil {
			return err
		}
		return tx.Model(&domain.ActionLog{}).Where("user_id = ?", userID).
			Update("user_id", nil).Error
	})
}

// ListUsers 按创建时间倒序返回全部用户
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0)
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error
	return users, err
}

// CountUsers 统计用户数量
func (s *Store) CountUsers(ctx context.Context) (domain.UserCounts, error) {
	var counts domain.UserCounts

	var roleStats []struct {
		Role   domain.UserRole
		Active bool
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&domain.User{}).
		Select("role, is_active AS active, COUNT(*) AS count").
		Group("role, is_active").
		Scan(&roleStats).Error
	if err != nil {
		return counts, err
	}

	for _, stat := range roleStats {
		counts.Total += stat.Count
		if stat.Active {
			counts.Active += stat.Count
		}
		switch stat.Role {
		case domain.RoleAdmin:
			counts.Admin += stat.Count
		case domain.RoleSupport:
			counts.Support += stat.Count
		}
	}
	return counts, nil
}
