package hybrid

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
	"mailport/backend/internal/storage/redis"
)

// 用户缓存时长，JWT 中间件每个请求都会读取用户
const userCacheTTL = 10 * time.Minute

// UserCache 用户读穿缓存，由 redis.Client 实现
type UserCache interface {
	CacheUser(ctx context.Context, user *domain.User, ttl time.Duration) error
	GetCachedUser(ctx context.Context, userID string) (*domain.User, error)
	DeleteCachedUser(ctx context.Context, userID string) error
	Close() error
}

// Store 混合存储实现，数据库为准，Redis 缓存按 ID 读取的用户
type Store struct {
	storage.Store
	cache UserCache
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache UserCache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Store: db, cache: cache, log: log}
}

// GetUserByID 先查 Redis，未命中时回源数据库并写回缓存
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.cache.GetCachedUser(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		s.log.Warn("user cache read failed", zap.String("user_id", id), zap.Error(err))
	}

	user, err = s.Store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheUser(ctx, user, userCacheTTL); err != nil {
		s.log.Warn("user cache write failed", zap.String("user_id", id), zap.Error(err))
	}
	return user, nil
}

// UpdateUser 更新用户并使缓存失效
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	if err := s.Store.UpdateUser(ctx, user); err != nil {
		return err
	}
	s.invalidate(ctx, user.ID)
	return nil
}

// UpdateLastLogin 更新登录时间并使缓存失效
func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	if err := s.Store.UpdateLastLogin(ctx, userID, at); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// DeleteUser 删除用户并使缓存失效
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := s.Store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Close 关闭数据库和 Redis 连接
func (s *Store) Close() error {
	dbErr := s.Store.Close()
	cacheErr := s.cache.Close()
	return errors.Join(dbErr, cacheErr)
}

func (s *Store) invalidate(ctx context.Context, userID string) {
	if err := s.cache.DeleteCachedUser(ctx, userID); err != nil {
		s.log.Warn("user cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

var (
	_ storage.Store = (*Store)(nil)
	_ UserCache     = (*redis.Client)(nil)
)
