package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// 单条 IN 查询最多携带的 ID 数
const deleteBatchSize = 500

// CreateEmail 保存新邮件
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email) error {
	// 带默认值的列遇到零值会被 gorm 跳过，显式写入全部列
	err := s.db.WithContext(ctx).Select("*").Omit("Attachments", "ActionLogs").Create(email).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
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

func (s *Store) firstEmail(ctx context.Context, query string, arg string) (*domain.Email, error) {
	var email domain.Email
	err := s.db.WithContext(ctx).
		Preload("Attachments", orderByCreated).
		Where(query, arg).
		First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// FindLatestBySender 返回该发件人最近的一封邮件
func (s *Store) FindLatestBySender(ctx context.Context, senderEmail string) (*domain.Email, error) {
	var email domain.Email
	err := s.db.WithContext(ctx).
		Where("sender_email = ?", senderEmail).
		Order("date_received DESC").
		First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// UpdateEmail 保存邮件的可变字段
func (s *Store) UpdateEmail(ctx context.Context, email *domain.Email) error {
	result := s.db.WithContext(ctx).Model(&domain.Email{}).
		Where("id = ?", email.ID).
		Updates(map[string]interface{}{
			"sender_name":            email.SenderName,
			"is_sender_name_manual":  email.IsSenderNameManual,
			"company_name":           email.CompanyName,
			"is_company_name_manual": email.IsCompanyNameManual,
			"status":                 email.Status,
			"read_by_user_id":        email.ReadByUserID,
			"read_at":                email.ReadAt,
			"last_action_user_id":    email.LastActionUserID,
			"last_action_at":         email.LastActionAt,
			"updated_at":             time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrEmailNotFound
	}
	return nil
}

// UpdateConversation 写入会话字段
func (s *Store) UpdateConversation(ctx context.Context, id string, fields domain.ConversationFields) error {
	result := s.db.WithContext(ctx).Model(&domain.Email{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"conversation_id":      fields.ConversationID,
			"thread_subject":       fields.ThreadSubject,
			"is_conversation_root": fields.IsConversationRoot,
			"updated_at":           time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrEmailNotFound
	}
	return nil
}

// UpdateCompanyByDomain 批量修改同域名邮件的公司名
func (s *Store) UpdateCompanyByDomain(ctx context.Context, senderDomain, company string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&domain.Email{}).
		Where("sender_domain = ? AND is_company_name_manual = ?", senderDomain, false).
		Updates(map[string]interface{}{
			"company_name":           company,
			"is_company_name_manual": true,
			"updated_at":             time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// ListEmails 分页查询邮件列表
func (s *Store) ListEmails(ctx context.Context, criteria domain.EmailSearchCriteria) (*domain.EmailSearchResult, error) {
	criteria.Normalize()

	query := s.db.WithContext(ctx).Model(&domain.Email{})

	if criteria.ConversationMode {
		query = query.Where("(is_conversation_root = ? OR conversation_id IS NULL)", true)
	}
	if criteria.Status != "" {
		query = query.Where("status = ?", criteria.Status)
	}
	if criteria.Search != "" {
		pattern := "%" + strings.ToLower(criteria.Search) + "%"
		query = query.Where(
			"LOWER(sender_email) LIKE ? OR LOWER(sender_name) LIKE ? OR LOWER(company_name) LIKE ? OR LOWER(subject) LIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var emails []domain.Email
	offset := (criteria.Page - 1) * criteria.PageSize
	err := query.
		Preload("Attachments", orderByCreated).
		Order(criteria.SortColumn() + " " + criteria.SortOrder).
		Order("id " + criteria.SortOrder).
		Offset(offset).
		Limit(criteria.PageSize).
		Find(&emails).Error
	if err != nil {
		return nil, err
	}

	items, err := s.withConversationSummary(ctx, emails)
	if err != nil {
		return nil, err
	}

	return &domain.EmailSearchResult{
		Emails:     items,
		Total:      int(total),
		Page:       criteria.Page,
		PageSize:   criteria.PageSize,
		TotalPages: (int(total) + criteria.PageSize - 1) / criteria.PageSize,
	}, nil
}

type conversationSummary struct {
	ConversationID string
	Count          int
	Latest         time.Time
}

// withConversationSummary 为列表中的每封邮件附加会话邮件数和最新时间
func (s *Store) withConversationSummary(ctx context.Context, emails []domain.Email) ([]domain.EmailListItem, error) {
	ids := make([]string, 0)
	for _, e := range emails {
		if e.ConversationID != nil {
			ids = append(ids, *e.ConversationID)
		}
	}

	summaries := make(map[string]conversationSummary)
	if len(ids) > 0 {
		var rows []conversationSummary
		err := s.db.WithContext(ctx).Model(&domain.Email{}).
			Select("conversation_id, COUNT(*) AS count, MAX(date_received) AS latest").
			Where("conversation_id IN ?", ids).
			Group("conversation_id").
			Scan(&rows).Error
		if err != nil {
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
				latest = sum.Latest
			}
		}
		item.LatestEmailDate = &latest
		items = append(items, item)
	}
	return items, nil
}

// ListUnthreaded 游标分页返回未归入会话的邮件
func (s *Store) ListUnthreaded(ctx context.Context, after *domain.EmailCursor, limit int) ([]domain.Email, error) {
	query := s.db.WithContext(ctx).Where("conversation_id IS NULL")
	if after != nil {
		query = query.Where("(date_received > ? OR (date_received = ? AND id > ?))",
			after.DateReceived, after.DateReceived, after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var emails []domain.Email
	err := query.Order("date_received ASC").Order("id ASC").Find(&emails).Error
	return emails, err
}

// FindEarliestThreadMember 查找会话中最早的邮件
func (s *Store) FindEarliestThreadMember(ctx context.Context, senders []string, threadSubject string) (*domain.Email, error) {
	var email domain.Email
	err := s.db.WithContext(ctx).
		Where("conversation_id IS NOT NULL AND thread_subject = ? AND sender_email IN ?", threadSubject, senders).
		Order("date_received ASC").
		Order("id ASC").
		First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

// ListConversationEmails 按时间升序返回会话邮件
func (s *Store) ListConversationEmails(ctx context.Context, conversationID string) ([]domain.Email, error) {
	var emails []domain.Email
	err := s.db.WithContext(ctx).
		Preload("Attachments", orderByCreated).
		Where("conversation_id = ?", conversationID).
		Order("date_received ASC").
		Order("id ASC").
		Find(&emails).Error
	return emails, err
}

// CountEmails 按条件计数
func (s *Store) CountEmails(ctx context.Context, filter domain.EmailCountFilter) (int, error) {
	query := s.db.WithContext(ctx).Model(&domain.Email{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Since != nil {
		query = query.Where("date_received >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("date_received < ?", *filter.Until)
	}
	if filter.HasAttachments != nil {
		query = query.Where("has_attachments = ?", *filter.HasAttachments)
	}
	if filter.SenderManual != nil {
		query = query.Where("is_sender_name_manual = ?", *filter.SenderManual)
	}
	if filter.CompanyManual != nil {
		query = query.Where("is_company_name_manual = ?", *filter.CompanyManual)
	}
	if filter.Threaded != nil {
		if *filter.Threaded {
			query = query.Where("conversation_id IS NOT NULL")
		} else {
			query = query.Where("conversation_id IS NULL")
		}
	}
	if filter.RootsOnly {
		query = query.Where("is_conversation_root = ? AND conversation_id IS NOT NULL", true)
	}

	var n int64
	err := query.Count(&n).Error
	return int(n), err
}

// CountConversations 统计不同会话的数量
func (s *Store) CountConversations(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Email{}).
		Where("conversation_id IS NOT NULL").
		Distinct("conversation_id").
		Count(&n).Error
	return int(n), err
}

// TopSenderDomains 按邮件数量返回发件域名排行
func (s *Store) TopSenderDomains(ctx context.Context, limit int) ([]domain.NamedCount, error) {
	return s.topBy(ctx, "sender_domain", limit)
}

// TopCompanies 按邮件数量返回公司排行
func (s *Store) TopCompanies(ctx context.Context, limit int) ([]domain.NamedCount, error) {
	return s.topBy(ctx, "company_name", limit)
}

func (s *Store) topBy(ctx context.Context, column string, limit int) ([]domain.NamedCount, error) {
	query := s.db.WithContext(ctx).Model(&domain.Email{}).
		Select(column+" AS name, COUNT(*) AS count").
		Where(column + " IS NOT NULL AND " + column + " <> ''").
		Group(column).
		Order("count DESC").
		Order(column + " ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	rows := make([]domain.NamedCount, 0)
	err := query.Scan(&rows).Error
	return rows, err
}

// DeleteEmailsBefore 删除早于指定时间的邮件及其附件和日志
func (s *Store) DeleteEmailsBefore(ctx context.Context, before time.Time) (int, []domain.Attachment, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&domain.Email{}).
		Where("date_received < ?", before).
		Pluck("id", &ids).Error; err != nil {
		return 0, nil, err
	}

	removed := make([]domain.Attachment, 0)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += deleteBatchSize {
			end := start + deleteBatchSize
			if end > len(ids) {
				end = len(ids)
			}
			batch := ids[start:end]

			var attachments []domain.Attachment
			if err := tx.Where("email_id IN ?", batch).Find(&attachments).Error; err != nil {
				return err
			}
			removed = append(removed, attachments...)

			if err := tx.Where("email_id IN ?", batch).Delete(&domain.Attachment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("email_id IN ?", batch).Delete(&domain.ActionLog{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", batch).Delete(&domain.Email{}).Error; err != nil {
				return err
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
	err := s.db.WithContext(ctx).Create(attachment).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return storage.ErrEmailNotFound
	}
	return err
}

// GetAttachment 获取附件元数据
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var attachment domain.Attachment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&attachment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &attachment, nil
}

func orderByCreated(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC")
}
