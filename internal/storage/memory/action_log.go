package memory

import (
	"context"
	"sort"
	"time"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// CreateActionLog 记录操作日志
func (s *Store) CreateActionLog(_ context.Context, log *domain.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[log.EmailID]; !ok {
		return storage.ErrEmailNotFound
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	cp := *log
	cp.User = nil
	s.logs = append(s.logs, &cp)
	return nil
}

// ListActionLogs 按时间倒序返回邮件的操作日志
func (s *Store) ListActionLogs(_ context.Context, emailID string) ([]domain.ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActionLog, 0)
	for _, l := range s.logs {
		if l.EmailID == emailID {
			out = append(out, *l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountActions 按类型和时间统计操作数
func (s *Store) CountActions(_ context.Context, filter domain.ActionCountFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, l := range s.logs {
		if filter.Since != nil && l.CreatedAt.Before(*filter.Since) {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, l.ActionType) {
			continue
		}
		n++
	}
	return n, nil
}

// DailyActionCounts 按天和类型统计 since 之后的操作
func (s *Store) DailyActionCounts(_ context.Context, since time.Time) ([]domain.DailyActionCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.ActionLog, 0)
	for _, l := range s.logs {
		if !l.CreatedAt.Before(since) {
			logs = append(logs, *l)
		}
	}
	return storage.DailyCounts(logs), nil
}

// TopActionIPs 返回操作最多的来源 IP
func (s *Store) TopActionIPs(_ context.Context, limit int) ([]domain.NamedCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, l := range s.logs {
		if l.UserIP != "" {
			counts[l.UserIP]++
		}
	}
	return topN(counts, limit), nil
}

func containsType(types []domain.ActionType, t domain.ActionType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
