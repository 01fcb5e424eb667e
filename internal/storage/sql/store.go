package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+、PostgreSQL 和 SQLite）
type Store struct {
	db         *sqlx.DB
	driverName string // "mysql"、"postgres" 或 "sqlite"
	log        *zap.Logger
}

// NewStore 创建SQL数据库存储，cfg.Type 决定驱动
func NewStore(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	driverName := cfg.Type
	if driverName != "mysql" && driverName != "postgres" && driverName != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres, sqlite)", driverName)
	}

	dsn := cfg.DSN
	if driverName == "sqlite" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite" {
		// SQLite 只允许一个写连接
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:         db,
		driverName: driverName,
		log:        log,
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("sql store ready", zap.String("driver", driverName))
	return store, nil
}

// sqliteDSN 为 SQLite 连接补充外键和忙等待参数
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "mailport.db"
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// DatabaseSize 返回数据库占用的字节数
func (s *Store) DatabaseSize(ctx context.Context) (int64, error) {
	var query string
	switch s.driverName {
	case "postgres":
		query = "SELECT pg_database_size(current_database())"
	case "mysql":
		query = "SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables WHERE table_schema = DATABASE()"
	default:
		query = "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()"
	}

	var size int64
	if err := s.db.GetContext(ctx, &size, query); err != nil {
		return 0, err
	}
	return size, nil
}

// GetMailSettings 获取邮件配置
func (s *Store) GetMailSettings(ctx context.Context) (*domain.MailSettings, error) {
	var row settingsRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+settingsColumns+` FROM mail_settings WHERE id = ?`), domain.SettingsID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSettingsNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// SaveMailSettings 保存邮件配置（单行覆盖）
func (s *Store) SaveMailSettings(ctx context.Context, settings *domain.MailSettings) error {
	row := newSettingsRow(settings)
	row.ID = domain.SettingsID
	row.UpdatedAt = time.Now().UTC()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM mail_settings WHERE id = ?`), row.ID); err != nil {
			return err
		}

		query := `INSERT INTO mail_settings (` + settingsColumns + `) VALUES (` + settingsValues + `)`
		if n > 0 {
			query = `UPDATE mail_settings SET
				smtp_host = :smtp_host, smtp_port = :smtp_port, smtp_secure = :smtp_secure,
				smtp_user = :smtp_user, smtp_password = :smtp_password,
				imap_host = :imap_host, imap_port = :imap_port, imap_tls = :imap_tls,
				imap_user = :imap_user, imap_password = :imap_password,
				default_forward_email = :default_forward_email, updated_at = :updated_at
				WHERE id = :id`
		}
		_, err := tx.NamedExecContext(ctx, query, row)
		return err
	})
}

// withTx 在事务中执行 fn，fn 返回错误时回滚
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// in 展开 IN (?) 参数并按驱动改写占位符
func (s *Store) in(query string, args ...interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(query), args, nil
}

// isUniqueViolation 判断是否违反唯一约束
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ storage.Store = (*Store)(nil)
