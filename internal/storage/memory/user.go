package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// CreateUser 创建用户，用户名或邮箱重复时返回对应错误
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[user.Username]; exists {
		return storage.ErrUsernameExists
	}
	email := strings.ToLower(user.Email)
	if _, exists := s.byEmail[email]; exists {
		return storage.ErrUserEmailExists
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	cp := *user
	s.users[user.ID] = &cp
	s.byUsername[user.Username] = user.ID
	s.byEmail[email] = user.ID
	return nil
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(id)
}

// GetUserByEmail 根据邮箱获取用户（不区分大小写）
func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.userLocked(id)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return s.userLocked(id)
}

// UpdateUser 更新用户信息，维护用户名和邮箱索引
func (s *Store) UpdateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if id, taken := s.byUsername[user.Username]; taken && id != user.ID {
		return storage.ErrUsernameExists
	}
	newEmail := strings.ToLower(user.Email)
	if id, taken := s.byEmail[newEmail]; taken && id != user.ID {
		return storage.ErrUserEmailExists
	}

	delete(s.byUsername, existing.Username)
	delete(s.byEmail, strings.ToLower(existing.Email))

	user.UpdatedAt = time.Now().UTC()
	cp := *user
	s.users[user.ID] = &cp
	s.byUsername[user.Username] = user.ID
	s.byEmail[newEmail] = user.ID
	return nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	t := at
	u.LastLogin = &t
	return nil
}

// DeleteUser 删除用户
func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	delete(s.byUsername, u.Username)
	delete(s.byEmail, strings.ToLower(u.Email))
	delete(s.users, userID)
	return nil
}

// ListUsers 按创建时间倒序返回全部用户
func (s *Store) ListUsers(context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountUsers 统计用户数量
func (s *Store) CountUsers(context.Context) (domain.UserCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.UserCounts
	for _, u := range s.users {
		c.Total++
		if u.IsActive {
			c.Active++
		}
		switch u.Role {
		case domain.RoleAdmin:
			c.Admin++
		case domain.RoleSupport:
			c.Support++
		}
	}
	return c, nil
}

func (s *Store) userLocked(id string) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
