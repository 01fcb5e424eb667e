package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

var (
	// ErrCannotDeactivateSelf 管理员不能禁用自己
	ErrCannotDeactivateSelf = errors.New("cannot deactivate your own account")
	// ErrCannotDeleteSelf 管理员不能删除自己
	ErrCannotDeleteSelf = errors.New("cannot delete your own account")
)

// AdminService 后台用户管理
type AdminService struct {
	users  storage.UserRepository
	logger *zap.Logger
}

// NewAdminService 创建管理服务
func NewAdminService(users storage.UserRepository, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		users:  users,
		logger: logger,
	}
}

// CreateUserInput 创建用户的输入参数
type CreateUserInput struct {
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	FullName string          `json:"fullName"`
	Role     domain.UserRole `json:"role"`
}

// ListUsers 按创建时间倒序列出用户
func (s *AdminService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// CreateUser 创建用户，角色为空时默认为客服
func (s *AdminService) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	if input.Role == "" {
		input.Role = domain.RoleSupport
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:        uuid.NewString(),
		Username:  strings.TrimSpace(input.Username),
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		FullName:  strings.TrimSpace(input.FullName),
		Role:      input.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("用户已创建",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("role", string(user.Role)),
	)
	return user, nil
}

// UpdateUser 修改用户，operatorID 为当前管理员
func (s *AdminService) UpdateUser(ctx context.Context, userID string, update domain.UserUpdate, operatorID string) (*domain.User, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	// 不能禁用自己
	if userID == operatorID && update.IsActive != nil && !*update.IsActive {
		return nil, ErrCannotDeactivateSelf
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.Username != nil {
		user.Username = strings.TrimSpace(*update.Username)
	}
	if update.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*update.Email))
	}
	if update.FullName != nil {
		user.FullName = strings.TrimSpace(*update.FullName)
	}
	if update.Role != nil {
		user.Role = *update.Role
	}
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}
	if update.Password != nil && *update.Password != "" {
		hash, err := auth.HashPassword(*update.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	user.UpdatedAt = time.Now().UTC()

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("用户已更新",
		zap.String("user_id", user.ID),
		zap.String("operator_id", operatorID),
	)
	return user, nil
}

// DeleteUser 删除用户
func (s *AdminService) DeleteUser(ctx context.Context, userID, operatorID string) error {
	if userID == operatorID {
		return ErrCannotDeleteSelf
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("用户已删除",
		zap.String("user_id", userID),
		zap.String("operator_id", operatorID),
	)
	return nil
}
