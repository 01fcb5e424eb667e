package service

import (
	"context"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// userLoader 为邮件和日志填充用户摘要，同一次请求内按 ID 缓存
type userLoader struct {
	users storage.UserRepository
	cache map[string]*domain.UserSummary
}

func newUserLoader(users storage.UserRepository) *userLoader {
	return &userLoader{
		users: users,
		cache: make(map[string]*domain.UserSummary),
	}
}

// get 用户已被删除时返回 nil
func (l *userLoader) get(ctx context.Context, id *string) *domain.UserSummary {
	if id == nil || *id == "" {
		return nil
	}
	if summary, ok := l.cache[*id]; ok {
		return summary
	}

	var summary *domain.UserSummary
	if user, err := l.users.GetUserByID(ctx, *id); err == nil {
		summary = user.Summary()
	}
	l.cache[*id] = summary
	return summary
}

func (l *userLoader) attach(ctx context.Context, email *domain.Email) {
	email.ReadByUser = l.get(ctx, email.ReadByUserID)
	email.LastActionUser = l.get(ctx, email.LastActionUserID)
}
