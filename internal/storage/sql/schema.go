package sql

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type migration struct {
	version    int
	statements []string
}

// 列类型占位符按驱动替换
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(36) PRIMARY KEY,
				username VARCHAR(30) NOT NULL UNIQUE,
				email VARCHAR(255) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				full_name VARCHAR(100) NOT NULL DEFAULT '',
				role VARCHAR(20) NOT NULL DEFAULT 'destek',
				is_active {{bool}} NOT NULL,
				last_login {{time}} NULL,
				created_at {{time}} NOT NULL,
				updated_at {{time}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS emails (
				id VARCHAR(36) PRIMARY KEY,
				message_id VARCHAR(255) NOT NULL UNIQUE,
				date_received {{time}} NOT NULL,
				sender_email VARCHAR(255) NOT NULL,
				sender_domain VARCHAR(255) NOT NULL DEFAULT '',
				sender_name VARCHAR(255) NOT NULL DEFAULT '',
				is_sender_name_manual {{bool}} NOT NULL,
				company_name VARCHAR(255) NOT NULL DEFAULT '',
				is_company_name_manual {{bool}} NOT NULL,
				subject TEXT,
				content {{longtext}},
				html_content {{longtext}},
				has_attachments {{bool}} NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'unread',
				read_by_user_id VARCHAR(36) NULL,
				read_at {{time}} NULL,
				last_action_user_id VARCHAR(36) NULL,
				last_action_at {{time}} NULL,
				conversation_id VARCHAR(64) NULL,
				thread_subject VARCHAR(500) NULL,
				is_conversation_root {{bool}} NOT NULL DEFAULT TRUE,
				created_at {{time}} NOT NULL,
				updated_at {{time}} NOT NULL
			)`,
			`CREATE INDEX idx_emails_date_received ON emails (date_received)`,
			`CREATE INDEX idx_emails_sender_email ON emails (sender_email)`,
			`CREATE INDEX idx_emails_sender_domain ON emails (sender_domain)`,
			`CREATE INDEX idx_emails_status ON emails (status)`,
			`CREATE INDEX idx_emails_conversation_id ON emails (conversation_id)`,
			`CREATE INDEX idx_emails_thread ON emails (thread_subject, sender_email)`,
			`CREATE TABLE IF NOT EXISTS email_attachments (
				id VARCHAR(36) PRIMARY KEY,
				email_id VARCHAR(36) NOT NULL,
				filename VARCHAR(500) NOT NULL,
				original_filename VARCHAR(255) NOT NULL,
				file_size BIGINT NOT NULL,
				mime_type VARCHAR(100) NOT NULL,
				file_path VARCHAR(1000) NOT NULL,
				created_at {{time}} NOT NULL,
				FOREIGN KEY (email_id) REFERENCES emails (id) ON DELETE CASCADE
			)`,
			`CREATE INDEX idx_email_attachments_email_id ON email_attachments (email_id)`,
			`CREATE TABLE IF NOT EXISTS action_logs (
				id VARCHAR(36) PRIMARY KEY,
				email_id VARCHAR(36) NOT NULL,
				user_id VARCHAR(36) NULL,
				action_type VARCHAR(20) NOT NULL,
				old_value TEXT,
				new_value TEXT,
				user_ip VARCHAR(64) NOT NULL DEFAULT '',
				user_agent VARCHAR(500) NOT NULL DEFAULT '',
				created_at {{time}} NOT NULL,
				FOREIGN KEY (email_id) REFERENCES emails (id) ON DELETE CASCADE
			)`,
			`CREATE INDEX idx_action_logs_email_id ON action_logs (email_id)`,
			`CREATE INDEX idx_action_logs_created_at ON action_logs (created_at)`,
			`CREATE TABLE IF NOT EXISTS mail_settings (
				id INTEGER PRIMARY KEY,
				smtp_host VARCHAR(255) NOT NULL DEFAULT '',
				smtp_port INTEGER NOT NULL DEFAULT 0,
				smtp_secure {{bool}} NOT NULL,
				smtp_user VARCHAR(255) NOT NULL DEFAULT '',
				smtp_password VARCHAR(255) NOT NULL DEFAULT '',
				imap_host VARCHAR(255) NOT NULL DEFAULT '',
				imap_port INTEGER NOT NULL DEFAULT 0,
				imap_tls {{bool}} NOT NULL,
				imap_user VARCHAR(255) NOT NULL DEFAULT '',
				imap_password VARCHAR(255) NOT NULL DEFAULT '',
				default_forward_email VARCHAR(255) NOT NULL DEFAULT '',
				updated_at {{time}} NOT NULL
			)`,
		},
	},
}

// columnTypes 返回驱动对应的列类型替换器
func (s *Store) columnTypes() *strings.Replacer {
	switch s.driverName {
	case "postgres":
		return strings.NewReplacer("{{bool}}", "BOOLEAN", "{{time}}", "TIMESTAMPTZ", "{{longtext}}", "TEXT")
	case "mysql":
		return strings.NewReplacer("{{bool}}", "BOOLEAN", "{{time}}", "DATETIME(6)", "{{longtext}}", "LONGTEXT")
	default:
		return strings.NewReplacer("{{bool}}", "BOOLEAN", "{{time}}", "DATETIME", "{{longtext}}", "TEXT")
	}
}

// migrate 按版本顺序执行尚未应用的迁移
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	types := s.columnTypes()
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		// MySQL 的 DDL 会隐式提交，这里不包事务
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, types.Replace(stmt)); err != nil {
				return fmt.Errorf("applying migration %d: %w", m.version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		s.log.Info("applied schema migration", zap.Int("version", m.version))
	}
	return nil
}
