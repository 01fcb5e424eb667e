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

// 单条 IN 查询最多携带的 ID 数
const deleteBatchSize = 500

// CreateEmail 保存新邮件
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email) error {
	now := time.Now().UTC()
	if email.CreatedAt.IsZero() {
		email.CreatedAt = now
	}
	email.UpdatedAt = now
	if email.Status == "" {
		email.Status = domain.StatusUnread
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO emails (`+emailColumns+`) VALUES (`+emailValues+`)`, newEmailRow(email))
	if isUniqueViolation(err) {
		return storage.ErrEmailExists
	}
	return err
}

// GetEmail 根据 ID 获取邮件及附件
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	return s.firstEmail(ctx, "id = ?", id)
}

// GetEmailByMessageID 根据 Message-ID 获取邮件
func (s *Store) GetEmailByMessageID(ctx context.Context, messageID string) (*domain.Email, error) {
	return s.firstEmail(ctx, "message_id = ?", messageID)
}

func (s *Store) firstEmail(ctx context.Context, where string, arg string) (*domain.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+emailColumns+` FROM emails WHERE `+where), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}

	emails := []domain.Email{row.toDomain()}
	if err := s.loadAttachments(ctx, emails); err != nil {
		return nil, err
	}
	return &emails[0], nil
}

// FindLatestBySender 返回该发件人最近的一封邮件
func (s *Store) FindLatestBySender(ctx context.Context, senderEmail string) (*domain.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+emailColumns+` FROM emails
		WHERE sender_email = ? ORDER BY date_received DESC LIMIT 1`), senderEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}
	e := row.toDomain()
	return &e, nil
}

// UpdateEmail 保存邮件的可变字段
func (s *Store) UpdateEmail(ctx context.Context, email *domain.Email) error {
	row := newEmailRow(email)
	row.UpdatedAt = time.Now().UTC()
	result, err := s.db.NamedExecContext(ctx, `UPDATE emails SET
		sender_name = :sender_name, is_sender_name_manual = :is_sender_name_manual,
		company_name = :company_name, is_company_name_manual = :is_company_name_manual,
		status = :status, read_by_user_id = :read_by_user_id, read_at = :read_at,
		last_action_user_id = :last_action_user_id, last_action_at = :last_action_at,
		updated_at = :updated_at
		WHERE id = :id`, row)
	return requireAffected(result, err, storage.ErrEmailNotFound)
}

// UpdateConversation 写入会话字段
func (s *Store) UpdateConversation(ctx context.Context, id string, fields domain.ConversationFields) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE emails
		SET conversation_id = ?, thread_subject = ?, is_conversation_root = ?, updated_at = ?
		WHERE id = ?`),
		nullString(fields.ConversationID), fields.ThreadSubject, fields.IsConversationRoot, time.Now().UTC(), id)
	return requireAffected(result, err, storage.ErrEmailNotFound)
}

// UpdateCompanyByDomain 批量修改同域名邮件的公司名
func (s *Store) UpdateCompanyByDomain(ctx context.Context, senderDomain, company string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE emails
		SET company_name = ?, is_company_name_manual = ?, updated_at = ?
		WHERE sender_domain = ? AND is_company_name_manual = ?`),
		company, true, time.Now().UTC(), senderDomain, false)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListEmails 分页查询邮件列表
func (s *Store) ListEmails(ctx context.Context, criteria domain.EmailSearchCriteria) (*domain.EmailSearchResult, error) {
	criteria.Normalize()

	whereClauses := []string{"1 = 1"}
	args := []interface{}{}

	if criteria.ConversationMode {
		whereClauses = append(whereClauses, "(is_conversation_root = ? OR conversation_id IS NULL)")
		args = append(args, true)
	}
	if criteria.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, string(criteria.Status))
	}
	if criteria.Search != "" {
		pattern := "%" + strings.ToLower(criteria.Search) + "%"
		whereClauses = append(whereClauses,
			"(LOWER(sender_email) LIKE ? OR LOWER(sender_name) LIKE ? OR LOWER(company_name) LIKE ? OR LOWER(subject) LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}
	where := strings.Join(whereClauses, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM emails WHERE `+where), args...); err != nil {
		return nil, err
	}

	offset := (criteria.Page - 1) * criteria.PageSize
	query := `SELECT ` + emailColumns + ` FROM emails WHERE ` + where +
		` ORDER BY ` + criteria.SortColumn() + ` ` + criteria.SortOrder + `, id ` + criteria.SortOrder +
		` LIMIT ? OFFSET ?`
	emails, err := s.selectEmails(ctx, s.db, s.db.Rebind(query), append(args, criteria.PageSize, offset)...)
	if err != nil {
		return nil, err
	}
	if err := s.loadAttachments(ctx, emails); err != nil {
		return nil, err
	}

	items, err := s.withConversationSummary(ctx, emails)
	if err != nil {
		return nil, err
	}

	return &domain.EmailSearchResult{
		Emails:     items,
		Total:      total,
		Page:       criteria.Page,
		PageSize:   criteria.PageSize,
		TotalPages: (total + criteria.PageSize - 1) / criteria.PageSize,
	}, nil
}

// withConversationSummary 为列表中的每封邮件附加会话邮件数和最新时间
func (s *Store) withConversationSummary(ctx context.Context, emails []domain.Email) ([]domain.EmailListItem, error) {
	ids := make([]string, 0)
	for _, e := range emails {
		if e.ConversationID != nil {
			ids = append(ids, *e.ConversationID)
		}
	}

	type summary struct {
		ConversationID string `db:"conversation_id"`
		Count          int    `db:"cnt"`
		Latest         dbTime `db:"latest"`
	}
	summaries := make(map[string]summary)
	if len(ids) > 0 {
		query, args, err := s.in(`SELECT conversation_id, COUNT(*) AS cnt, MAX(date_received) AS latest
			FROM emails WHERE conversation_id IN (?) GROUP BY conversation_id`, ids)
		if err != nil {
			return nil, err
		}
		var rows []summary
		if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, err
		}
		for _, r := range rows {
			summaries[r.ConversationID] = r
		}
	}

	items := make([]domain.EmailListItem, 0, len(emails))
	for _, e := range emails {
		item := domain.EmailListItem{Email: e, ConversationCount: 1}
		latest := e.DateReceived
		if e.ConversationID != nil {
			if sum, ok := summaries[*e.ConversationID]; ok {
				item.ConversationCount = sum.Count
				latest = sum.Latest.Time
			}
		}
		item.LatestEmailDate = &latest
		items = append(items, item)
	}
	return items, nil
}

// ListUnthreaded 游标分页返回未归入会话的邮件
func (s *Store) ListUnthreaded(ctx context.Context, after *domain.EmailCursor, limit int) ([]domain.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE conversation_id IS NULL`
	args := []interface{}{}
	if after != nil {
		at := after.DateReceived.UTC()
		query += ` AND (date_received > ? OR (date_received = ? AND id > ?))`
		args = append(args, at, at, after.ID)
	}
	query += ` ORDER BY date_received ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.selectEmails(ctx, s.db, s.db.Rebind(query), args...)
}

// FindEarliestThreadMember 查找会话中最早的邮件
func (s *Store) FindEarliestThreadMember(ctx context.Context, senders []string, threadSubject string) (*domain.Email, error) {
	if len(senders) == 0 {
		return nil, nil
	}
	query, args, err := s.in(`SELECT `+emailColumns+` FROM emails
		WHERE conversation_id IS NOT NULL AND thread_subject = ? AND sender_email IN (?)
		ORDER BY date_received ASC, id ASC LIMIT 1`, threadSubject, senders)
	if err != nil {
		return nil, err
	}

	emails, err := s.selectEmails(ctx, s.db, query, args...)
	if err != nil || len(emails) == 0 {
		return nil, err
	}
	return &emails[0], nil
}

// ListConversationEmails 按时间升序返回会话邮件
func (s *Store) ListConversationEmails(ctx context.Context, conversationID string) ([]domain.Email, error) {
	emails, err := s.selectEmails(ctx, s.db, s.db.Rebind(`SELECT `+emailColumns+` FROM emails
		WHERE conversation_id = ? ORDER BY date_received ASC, id ASC`), conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.loadAttachments(ctx, emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// CountEmails 按条件计数
func (s *Store) CountEmails(ctx context.Context, filter domain.EmailCountFilter) (int, error) {
	whereClauses := []string{"1 = 1"}
	args := []interface{}{}
	add := func(clause string, values ...interface{}) {
		whereClauses = append(whereClauses, clause)
		args = append(args, values...)
	}

	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.Since != nil {
		add("date_received >= ?", filter.Since.UTC())
	}
	if filter.Until != nil {
		add("date_received < ?", filter.Until.UTC())
	}
	if filter.HasAttachments != nil {
		add("has_attachments = ?", *filter.HasAttachments)
	}
	if filter.SenderManual != nil {
		add("is_sender_name_manual = ?", *filter.SenderManual)
	}
	if filter.CompanyManual != nil {
		add("is_company_name_manual = ?", *filter.CompanyManual)
	}
	if filter.Threaded != nil {
		if *filter.Threaded {
			add("conversation_id IS NOT NULL")
		} else {
			add("conversation_id IS NULL")
		}
	}
	if filter.RootsOnly {
		add("is_conversation_root = ? AND conversation_id IS NOT NULL", true)
	}

	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM emails WHERE `+strings.Join(whereClauses, " AND ")), args...)
	return n, err
}

// CountConversations 统计不同会话的数量
func (s *Store) CountConversations(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT conversation_id) FROM emails WHERE conversation_id IS NOT NULL`)
	return n, err
}

// TopSenderDomains 按邮件数量返回发件域名排行
func (s *Store) TopSenderDomains(ctx context.Context, limit int) ([]domain.NamedCount, error) {
	return s.topBy(ctx, "emails", "sender_domain", limit)
}

// TopCompanies 按邮件数量返回公司排行
func (s *Store) TopCompanies(ctx context.Context, limit int) ([]domain.NamedCount, error) {
	return s.topBy(ctx, "emails", "company_name", limit)
}

// topBy 按列分组计数，table 与 column 只接受代码中的常量
func (s *Store) topBy(ctx context.Context, table, column string, limit int) ([]domain.NamedCount, error) {
	query := `SELECT ` + column + ` AS name, COUNT(*) AS cnt FROM ` + table +
		` WHERE ` + column + ` IS NOT NULL AND ` + column + ` <> ''` +
		` GROUP BY ` + column + ` ORDER BY cnt DESC, ` + column + ` ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []struct {
		Name  string `db:"name"`
		Count int    `db:"cnt"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	out := make([]domain.NamedCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.NamedCount{Name: r.Name, Count: r.Count})
	}
	return out, nil
}

// DeleteEmailsBefore 删除早于指定时间的邮件及其附件和日志
func (s *Store) DeleteEmailsBefore(ctx context.Context, before time.Time) (int, []domain.Attachment, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(`SELECT id FROM emails WHERE date_received < ?`), before.UTC()); err != nil {
		return 0, nil, err
	}

	removed := make([]domain.Attachment, 0)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for start := 0; start < len(ids); start += deleteBatchSize {
			end := start + deleteBatchSize
			if end > len(ids) {
				end = len(ids)
			}
			batch := ids[start:end]

			query, args, err := s.in(`SELECT `+attachmentColumns+` FROM email_attachments WHERE email_id IN (?)`, batch)
			if err != nil {
				return err
			}
			var rows []attachmentRow
			if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
				return err
			}
			for i := range rows {
				removed = append(removed, rows[i].toDomain())
			}

			for _, stmt := range []string{
				`DELETE FROM email_attachments WHERE email_id IN (?)`,
				`DELETE FROM action_logs WHERE email_id IN (?)`,
				`DELETE FROM emails WHERE id IN (?)`,
			} {
				query, args, err := s.in(stmt, batch)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return len(ids), removed, nil
}

// CreateAttachment 保存附件元数据
func (s *Store) CreateAttachment(ctx context.Context, attachment *domain.Attachment) error {
	if err := s.requireEmail(ctx, attachment.EmailID); err != nil {
		return err
	}
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO email_attachments (`+attachmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		attachment.ID, attachment.EmailID, attachment.Filename, attachment.OriginalFilename,
		attachment.FileSize, attachment.MimeType, attachment.FilePath, attachment.CreatedAt.UTC())
	return err
}

// GetAttachment 获取附件元数据
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var row attachmentRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+attachmentColumns+` FROM email_attachments WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	a := row.toDomain()
	return &a, nil
}

func (s *Store) requireEmail(ctx context.Context, emailID string) error {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM emails WHERE id = ?`), emailID); err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrEmailNotFound
	}
	return nil
}

func (s *Store) selectEmails(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) ([]domain.Email, error) {
	var rows []emailRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	emails := make([]domain.Email, 0, len(rows))
	for i := range rows {
		emails = append(emails, rows[i].toDomain())
	}
	return emails, nil
}

// loadAttachments 批量加载邮件附件
func (s *Store) loadAttachments(ctx context.Context, emails []domain.Email) error {
	if len(emails) == 0 {
		return nil
	}
	ids := make([]string, 0, len(emails))
	index := make(map[string]int, len(emails))
	for i := range emails {
		ids = append(ids, emails[i].ID)
		index[emails[i].ID] = i
		emails[i].Attachments = make([]domain.Attachment, 0)
	}

	query, args, err := s.in(`SELECT `+attachmentColumns+` FROM email_attachments
		WHERE email_id IN (?) ORDER BY created_at ASC`, ids)
	if err != nil {
		return err
	}
	var rows []attachmentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return err
	}
	for i := range rows {
		if pos, ok := index[rows[i].EmailID]; ok {
			emails[pos].Attachments = append(emails[pos].Attachments, rows[i].toDomain())
		}
	}
	return nil
}

func requireAffected(result sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
