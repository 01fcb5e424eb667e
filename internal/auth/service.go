package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailport/backend/internal/auth/jwt"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

var (
	// ErrInvalidCredentials 用户名或密码错误
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserInactive 用户已被禁用
	ErrUserInactive = errors.New("user is inactive")
	// ErrWrongPassword 修改密码时当前密码错误
	ErrWrongPassword = errors.New("current password is incorrect")
)

// Service 认证服务
type Service struct {
	users  storage.UserRepository
	tokens *jwt.Manager
	logger *zap.Logger
}

// NewService 创建认证服务
func NewService(users storage.UserRepository, tokens *jwt.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

// LoginInput 登录输入
type LoginInput struct {
	Identifier string // 用户名或邮箱
	Password   string
}

// LoginResult 登录结果
type LoginResult struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// Login 用户登录
//
// 用户不存在、已禁用或密码错误都返回 ErrInvalidCredentials。
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive || !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("更新最后登录时间失败", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLogin = &now
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}

	s.logger.Info("用户登录", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return &LoginResult{Token: token, User: user}, nil
}

// findByIdentifier 先按用户名查找，再按邮箱查找
func (s *Service) findByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	user, err := s.users.GetUserByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}
	return s.users.GetUserByEmail(ctx, identifier)
}

// Authenticate 校验令牌并加载当前用户
//
// 令牌有效但用户已被删除或禁用时同样拒绝。
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// Profile 获取用户资料
func (s *Service) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// ChangePassword 修改密码
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := domain.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	// 验证旧密码
	if !CheckPassword(currentPassword, user.PasswordHash) {
		return ErrWrongPassword
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = hash
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return err
	}

	s.logger.Info("用户修改密码", zap.String("user_id", userID))
	return nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
