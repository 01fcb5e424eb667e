package sql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// CreateUser 创建新用户
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.checkUserUnique(ctx, user); err != nil {
		return err
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = domain.RoleSupport
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES
		(:id, :username, :email, :password_hash, :full_name, :role, :is_active, :last_login, :created_at, :updated_at)`,
		newUserRow(user))
	if isUniqueViolation(err) {
		return storage.ErrUsernameExists
	}
	return err
}

// checkUserUnique 检查用户名和邮箱是否被其他用户占用
func (s *Store) checkUserUnique(ctx context.Context, user *domain.User) error {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE username = ? AND id <> ?`),
		user.Username, user.ID); err != nil {
		return err
	}
	if n > 0 {
		return storage.ErrUsernameExists
	}

	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE LOWER(email) = ? AND id <> ?`),
		strings.ToLower(user.Email), user.ID); err != nil {
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

func (s *Store) firstUser(ctx context.Context, where, arg string) (*domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	if err := s.checkUserUnique(ctx, user); err != nil {
		return err
	}

	user.UpdatedAt = time.Now().UTC()
	result, err := s.db.NamedExecContext(ctx, `UPDATE users SET
		username = :username, email = :email, password_hash = :password_hash, full_name = :full_name,
		role = :role, is_active = :is_active, last_login = :last_login, updated_at = :updated_at
		WHERE id = :id`, newUserRow(user))
	if isUniqueViolation(err) {
		return storage.ErrUsernameExists
	}
	return requireAffected(result, err, storage.ErrUserNotFound)
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`),
		at.UTC(), time.Now().UTC(), userID)
	return requireAffected(result, err, storage.ErrUserNotFound)
}

// DeleteUser 删除用户，邮件和日志中的引用置空
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM users WHERE id = ?`), userID)
		if err := requireAffected(result, err, storage.ErrUserNotFound); err != nil {
			return err
		}
		for _, stmt := range []string{
			`UPDATE emails SET read_by_user_id = NULL WHERE read_by_user_id = ?`,
			`UPDATE emails SET last_action_user_id = NULL WHERE last_action_user_id = ?`,
			`UPDATE action_logs SET user_id = NULL WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), userID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListUsers 按创建时间倒序返回全部用户
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(rows))
	for i := range rows {
		users = append(users, *rows[i].toDomain())
	}
	return users, nil
}

// CountUsers 统计用户数量
func (s *Store) CountUsers(ctx context.Context) (domain.UserCounts, error) {
	var counts domain.UserCounts

	var rows []struct {
		Role   string `db:"role"`
		Active bool   `db:"is_active"`
		Count  int    `db:"cnt"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT role, is_active, COUNT(*) AS cnt FROM users GROUP BY role, is_active`); err != nil {
		return counts, err
	}

	for _, r := range rows {
		counts.Total += r.Count
		if r.Active {
			counts.Active += r.Count
		}
		switch domain.UserRole(r.Role) {
		case domain.RoleAdmin:
			counts.Admin += r.Count
		case domain.RoleSupport:
			counts.Support += r.Count
		}
	}
	return counts, nil
}
