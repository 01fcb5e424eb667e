package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailport/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// userRecord 用户缓存结构，domain.User 的 JSON 形式不含密码哈希
type userRecord struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"passwordHash"`
	FullName     string          `json:"fullName"`
	Role         domain.UserRole `json:"role"`
	IsActive     bool            `json:"isActive"`
	LastLogin    *time.Time      `json:"lastLogin"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func toRecord(u *domain.User) userRecord {
	return userRecord{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FullName:     u.FullName,
		Role:         u.Role,
		IsActive:     u.IsActive,
		LastLogin:    u.LastLogin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r userRecord) user() *domain.User {
	return &domain.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FullName:     r.FullName,
		Role:         r.Role,
		IsActive:     r.IsActive,
		LastLogin:    r.LastLogin,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// CacheUser 缓存用户
func (c *Client) CacheUser(ctx context.Context, user *domain.User, ttl time.Duration) error {
	data, err := json.Marshal(toRecord(user))
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key("user", user.ID), data, ttl).Err()
}

// GetCachedUser 获取缓存的用户，未命中返回 ErrCacheMiss
func (c *Client) GetCachedUser(ctx context.Context, userID string) (*domain.User, error) {
	var rec userRecord
	if err := c.getJSON(ctx, c.key("user", userID), &rec); err != nil {
		return nil, err
	}
	return rec.user(), nil
}

// DeleteCachedUser 删除缓存的用户
func (c *Client) DeleteCachedUser(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, c.key("user", userID)).Err()
}

// SetJSON 以 JSON 形式缓存任意值
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key("json", key), data, ttl).Err()
}

// GetJSON 读取 SetJSON 写入的值，未命中返回 ErrCacheMiss
func (c *Client) GetJSON(ctx context.Context, key string, dst any) error {
	return c.getJSON(ctx, c.key("json", key), dst)
}

// DeleteJSON 删除 SetJSON 写入的键
func (c *Client) DeleteJSON(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key("json", k)
	}
	return c.rdb.Del(ctx, full...).Err()
}

func (c *Client) getJSON(ctx context.Context, key string, dst any) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dst)
}
