package sql

import (
	"database/sql"
	"fmt"
	"time"

	"mailport/backend/internal/domain"
)

const emailColumns = `id, message_id, date_received, sender_email, sender_domain, sender_name,
	is_sender_name_manual, company_name, is_company_name_manual, subject, content, html_content,
	has_attachments, status, read_by_user_id, read_at, last_action_user_id, last_action_at,
	conversation_id, thread_subject, is_conversation_root, created_at, updated_at`

const emailValues = `:id, :message_id, :date_received, :sender_email, :sender_domain, :sender_name,
	:is_sender_name_manual, :company_name, :is_company_name_manual, :subject, :content, :html_content,
	:has_attachments, :status, :read_by_user_id, :read_at, :last_action_user_id, :last_action_at,
	:conversation_id, :thread_subject, :is_conversation_root, :created_at, :updated_at`

type emailRow struct {
	ID                  string         `db:"id"`
	MessageID           string         `db:"message_id"`
	DateReceived        time.Time      `db:"date_received"`
	SenderEmail         string         `db:"sender_email"`
	SenderDomain        string         `db:"sender_domain"`
	SenderName          string         `db:"sender_name"`
	IsSenderNameManual  bool           `db:"is_sender_name_manual"`
	CompanyName         string         `db:"company_name"`
	IsCompanyNameManual bool           `db:"is_company_name_manual"`
	Subject             sql.NullString `db:"subject"`
	Content             sql.NullString `db:"content"`
	HTMLContent         sql.NullString `db:"html_content"`
	HasAttachments      bool           `db:"has_attachments"`
	Status              string         `db:"status"`
	ReadByUserID        sql.NullString `db:"read_by_user_id"`
	ReadAt              sql.NullTime   `db:"read_at"`
	LastActionUserID    sql.NullString `db:"last_action_user_id"`
	LastActionAt        sql.NullTime   `db:"last_action_at"`
	ConversationID      sql.NullString `db:"conversation_id"`
	ThreadSubject       sql.NullString `db:"thread_subject"`
	IsConversationRoot  bool           `db:"is_conversation_root"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func newEmailRow(e *domain.Email) emailRow {
	return emailRow{
		ID:                  e.ID,
		MessageID:           e.MessageID,
		DateReceived:        e.DateReceived.UTC(),
		SenderEmail:         e.SenderEmail,
		SenderDomain:        e.SenderDomain,
		SenderName:          e.SenderName,
		IsSenderNameManual:  e.IsSenderNameManual,
		CompanyName:         e.CompanyName,
		IsCompanyNameManual: e.IsCompanyNameManual,
		Subject:             sql.NullString{String: e.Subject, Valid: true},
		Content:             sql.NullString{String: e.Content, Valid: true},
		HTMLContent:         sql.NullString{String: e.HTMLContent, Valid: true},
		HasAttachments:      e.HasAttachments,
		Status:              string(e.Status),
		ReadByUserID:        nullString(e.ReadByUserID),
		ReadAt:              nullTime(e.ReadAt),
		LastActionUserID:    nullString(e.LastActionUserID),
		LastActionAt:        nullTime(e.LastActionAt),
		ConversationID:      nullString(e.ConversationID),
		ThreadSubject:       nullString(e.ThreadSubject),
		IsConversationRoot:  e.IsConversationRoot,
		CreatedAt:           e.CreatedAt.UTC(),
		UpdatedAt:           e.UpdatedAt.UTC(),
	}
}

func (r *emailRow) toDomain() domain.Email {
	return domain.Email{
		ID:                  r.ID,
		MessageID:           r.MessageID,
		DateReceived:        r.DateReceived,
		SenderEmail:         r.SenderEmail,
		SenderDomain:        r.SenderDomain,
		SenderName:          r.SenderName,
		IsSenderNameManual:  r.IsSenderNameManual,
		CompanyName:         r.CompanyName,
		IsCompanyNameManual: r.IsCompanyNameManual,
		Subject:             r.Subject.String,
		Content:             r.Content.String,
		HTMLContent:         r.HTMLContent.String,
		HasAttachments:      r.HasAttachments,
		Status:              domain.EmailStatus(r.Status),
		ReadByUserID:        stringPtr(r.ReadByUserID),
		ReadAt:              timePtr(r.ReadAt),
		LastActionUserID:    stringPtr(r.LastActionUserID),
		LastActionAt:        timePtr(r.LastActionAt),
		ConversationID:      stringPtr(r.ConversationID),
		ThreadSubject:       stringPtr(r.ThreadSubject),
		IsConversationRoot:  r.IsConversationRoot,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

const attachmentColumns = `id, email_id, filename, original_filename, file_size, mime_type, file_path, created_at`

type attachmentRow struct {
	ID               string    `db:"id"`
	EmailID          string    `db:"email_id"`
	Filename         string    `db:"filename"`
	OriginalFilename string    `db:"original_filename"`
	FileSize         int64     `db:"file_size"`
	MimeType         string    `db:"mime_type"`
	FilePath         string    `db:"file_path"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r *attachmentRow) toDomain() domain.Attachment {
	return domain.Attachment{
		ID:               r.ID,
		EmailID:          r.EmailID,
		Filename:         r.Filename,
		OriginalFilename: r.OriginalFilename,
		FileSize:         r.FileSize,
		MimeType:         r.MimeType,
		FilePath:         r.FilePath,
		CreatedAt:        r.CreatedAt,
	}
}

const actionLogColumns = `id, email_id, user_id, action_type, old_value, new_value, user_ip, user_agent, created_at`

type actionLogRow struct {
	ID         string         `db:"id"`
	EmailID    string         `db:"email_id"`
	UserID     sql.NullString `db:"user_id"`
	ActionType string         `db:"action_type"`
	OldValue   sql.NullString `db:"old_value"`
	NewValue   sql.NullString `db:"new_value"`
	UserIP     string         `db:"user_ip"`
	UserAgent  string         `db:"user_agent"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *actionLogRow) toDomain() domain.ActionLog {
	return domain.ActionLog{
		ID:         r.ID,
		EmailID:    r.EmailID,
		UserID:     stringPtr(r.UserID),
		ActionType: domain.ActionType(r.ActionType),
		OldValue:   r.OldValue.String,
		NewValue:   r.NewValue.String,
		UserIP:     r.UserIP,
		UserAgent:  r.UserAgent,
		CreatedAt:  r.CreatedAt,
	}
}

const userColumns = `id, username, email, password_hash, full_name, role, is_active, last_login, created_at, updated_at`

type userRow struct {
	ID           string       `db:"id"`
	Username     string       `db:"username"`
	Email        string       `db:"email"`
	PasswordHash string       `db:"password_hash"`
	FullName     string       `db:"full_name"`
	Role         string       `db:"role"`
	IsActive     bool         `db:"is_active"`
	LastLogin    sql.NullTime `db:"last_login"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func newUserRow(u *domain.User) userRow {
	return userRow{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FullName:     u.FullName,
		Role:         string(u.Role),
		IsActive:     u.IsActive,
		LastLogin:    nullTime(u.LastLogin),
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}
}

func (r *userRow) toDomain() *domain.User {
	return &domain.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FullName:     r.FullName,
		Role:         domain.UserRole(r.Role),
		IsActive:     r.IsActive,
		LastLogin:    timePtr(r.LastLogin),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const settingsColumns = `id, smtp_host, smtp_port, smtp_secure, smtp_user, smtp_password,
	imap_host, imap_port, imap_tls, imap_user, imap_password, default_forward_email, updated_at`

const settingsValues = `:id, :smtp_host, :smtp_port, :smtp_secure, :smtp_user, :smtp_password,
	:imap_host, :imap_port, :imap_tls, :imap_user, :imap_password, :default_forward_email, :updated_at`

type settingsRow struct {
	ID                  int       `db:"id"`
	SMTPHost            string    `db:"smtp_host"`
	SMTPPort            int       `db:"smtp_port"`
	SMTPSecure          bool      `db:"smtp_secure"`
	SMTPUser            string    `db:"smtp_user"`
	SMTPPassword        string    `db:"smtp_password"`
	IMAPHost            string    `db:"imap_host"`
	IMAPPort            int       `db:"imap_port"`
	IMAPTLS             bool      `db:"imap_tls"`
	IMAPUser            string    `db:"imap_user"`
	IMAPPassword        string    `db:"imap_password"`
	DefaultForwardEmail string    `db:"default_forward_email"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func newSettingsRow(m *domain.MailSettings) settingsRow {
	return settingsRow{
		ID:                  m.ID,
		SMTPHost:            m.SMTPHost,
		SMTPPort:            m.SMTPPort,
		SMTPSecure:          m.SMTPSecure,
		SMTPUser:            m.SMTPUser,
		SMTPPassword:        m.SMTPPassword,
		IMAPHost:            m.IMAPHost,
		IMAPPort:            m.IMAPPort,
		IMAPTLS:             m.IMAPTLS,
		IMAPUser:            m.IMAPUser,
		IMAPPassword:        m.IMAPPassword,
		DefaultForwardEmail: m.DefaultForwardEmail,
		UpdatedAt:           m.UpdatedAt,
	}
}

func (r *settingsRow) toDomain() *domain.MailSettings {
	return &domain.MailSettings{
		ID:                  r.ID,
		SMTPHost:            r.SMTPHost,
		SMTPPort:            r.SMTPPort,
		SMTPSecure:          r.SMTPSecure,
		SMTPUser:            r.SMTPUser,
		SMTPPassword:        r.SMTPPassword,
		IMAPHost:            r.IMAPHost,
		IMAPPort:            r.IMAPPort,
		IMAPTLS:             r.IMAPTLS,
		IMAPUser:            r.IMAPUser,
		IMAPPassword:        r.IMAPPassword,
		DefaultForwardEmail: r.DefaultForwardEmail,
		UpdatedAt:           r.UpdatedAt,
	}
}

// dbTime 接收聚合函数返回的时间，SQLite 中 MAX() 的结果是文本
type dbTime struct {
	time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Scan 实现 sql.Scanner
func (t *dbTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into time", value)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized time format %q", s)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}
