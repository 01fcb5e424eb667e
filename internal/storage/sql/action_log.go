package sql

import (
	"context"
	"strings"
	"time"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// CreateActionLog 记录操作日志
func (s *Store) CreateActionLog(ctx context.Context, log *domain.ActionLog) error {
	if err := s.requireEmail(ctx, log.EmailID); err != nil {
		return err
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO action_logs (`+actionLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		log.ID, log.EmailID, nullString(log.UserID), string(log.ActionType), log.OldValue, log.NewValue,
		log.UserIP, log.UserAgent, log.CreatedAt.UTC())
	return err
}

// ListActionLogs 按时间倒序返回邮件的操作日志
func (s *Store) ListActionLogs(ctx context.Context, emailID string) ([]domain.ActionLog, error) {
	var rows []actionLogRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+actionLogColumns+` FROM action_logs
		WHERE email_id = ? ORDER BY created_at DESC`), emailID)
	if err != nil {
		return nil, err
	}
	logs := make([]domain.ActionLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, rows[i].toDomain())
	}
	return logs, nil
}

// CountActions 按类型和时间统计操作数
func (s *Store) CountActions(ctx context.Context, filter domain.ActionCountFilter) (int, error) {
	whereClauses := []string{"1 = 1"}
	args := []interface{}{}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		whereClauses = append(whereClauses, "action_type IN (?)")
		args = append(args, types)
	}
	if filter.Since != nil {
		whereClauses = append(whereClauses, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query, args, err := s.in(`SELECT COUNT(*) FROM action_logs WHERE `+strings.Join(whereClauses, " AND "), args...)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.GetContext(ctx, &n, query, args...)
	return n, err
}

// DailyActionCounts 按天和类型统计 since 之后的操作
func (s *Store) DailyActionCounts(ctx context.Context, since time.Time) ([]domain.DailyActionCount, error) {
	var rows []struct {
		ActionType string    `db:"action_type"`
		CreatedAt  time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT action_type, created_at FROM action_logs WHERE created_at >= ?`), since.UTC())
	if err != nil {
		return nil, err
	}

	logs := make([]domain.ActionLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, domain.ActionLog{ActionType: domain.ActionType(r.ActionType), CreatedAt: r.CreatedAt})
	}
	return storage.DailyCounts(logs), nil
}

// TopActionIPs 返回操作最多的来源 IP
func (s *Store) TopActionIPs(ctx context.Context, limit int) ([]domain.NamedCount, error) {
	return s.topBy(ctx, "action_logs", "user_ip", limit)
}
