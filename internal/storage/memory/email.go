package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// CreateEmail 保存新邮件，Message-ID 重复时返回 storage.ErrEmailExists
func (s *Store) CreateEmail(_ context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byMessageID[email.MessageID]; exists {
		return storage.ErrEmailExists
	}

	now := time.Now().UTC()
	if email.CreatedAt.IsZero() {
		email.CreatedAt = now
	}
	email.UpdatedAt = now

	cp := cloneEmail(email)
	cp.Attachments = nil
	s.emails[email.ID] = cp
	s.byMessageID[email.MessageID] = email.ID
	return nil
}

// GetEmail 根据 ID 获取邮件及附件
func (s *Store) GetEmail(_ context.Context, id string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.emails[id]
	if !ok {
		return nil, storage.ErrEmailNotFound
	}
	return s.withAttachmentsLocked(e), nil
}

// GetEmailByMessageID 根据 Message-ID 获取邮件
func (s *Store) GetEmailByMessageID(_ context.Context, messageID string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMessageID[messageID]
	if !ok {
		return nil, storage.ErrEmailNotFound
	}
	return s.withAttachmentsLocked(s.emails[id]), nil
}

// FindLatestBySender 返回该发件人最近的一封邮件
func (s *Store) FindLatestBySender(_ context.Context, senderEmail string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Email
	for _, e := range s.emails {
		if e.SenderEmail != senderEmail {
			continue
		}
		if latest == nil || e.DateReceived.After(latest.DateReceived) {
			latest = e
		}
	}
	if latest == nil {
		return nil, storage.ErrEmailNotFound
	}
	return cloneEmail(latest), nil
}

// UpdateEmail 保存邮件的可变字段
func (s *Store) UpdateEmail(_ context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.emails[email.ID]
	if !ok {
		return storage.ErrEmailNotFound
	}
	e.SenderName = email.SenderName
	e.IsSenderNameManual = email.IsSenderNameManual
	e.CompanyName = email.CompanyName
	e.IsCompanyNameManual = email.IsCompanyNameManual
	e.Status = email.Status
	e.ReadByUserID = cloneString(email.ReadByUserID)
	e.ReadAt = cloneTime(email.ReadAt)
	e.LastActionUserID = cloneString(email.LastActionUserID)
	e.LastActionAt = cloneTime(email.LastActionAt)
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateConversation 写入会话字段
func (s *Store) UpdateConversation(_ context.Context, id string, fields domain.ConversationFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.emails[id]
	if !ok {
		return storage.ErrEmailNotFound
	}
	fields.Apply(e)
	e.ConversationID = cloneString(e.ConversationID)
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCompanyByDomain 批量修改同域名邮件的公司名
func (s *Store) UpdateCompanyByDomain(_ context.Context, senderDomain, company string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for _, e := range s.emails {
		if e.SenderDomain != senderDomain || e.IsCompanyNameManual {
			continue
		}
		e.CompanyName = company
		e.IsCompanyNameManual = true
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

// ListEmails 分页查询邮件列表
func (s *Store) ListEmails(_ context.Context, criteria domain.EmailSearchCriteria) (*domain.EmailSearchResult, error) {
	criteria.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(criteria.Search)
	matched := make([]*domain.Email, 0)
	for _, e := range s.emails {
		if criteria.ConversationMode && !(e.IsConversationRoot || e.ConversationID == nil) {
			continue
		}
		if criteria.Status != "" && e.Status != criteria.Status {
			continue
		}
		if search != "" && !matchesSearch(e, search) {
			continue
		}
		matched = append(matched, e)
	}

	less := emailLess(criteria.SortBy)
	desc := criteria.SortOrder == "DESC"
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	total := len(matched)
	start := (criteria.Page - 1) * criteria.PageSize
	if start > total {
		start = total
	}
	end := start + criteria.PageSize
	if end > total {
		end = total
	}

	items := make([]domain.EmailListItem, 0, end-start)
	for _, e := range matched[start:end] {
		item := domain.EmailListItem{Email: *s.withAttachmentsLocked(e)}
		item.ConversationCount, item.LatestEmailDate = s.conversationSummaryLocked(e)
		items = append(items, item)
	}

	return &domain.EmailSearchResult{
		Emails:     items,
		Total:      total,
		Page:       criteria.Page,
		PageSize:   criteria.PageSize,
		TotalPages: (total + criteria.PageSize - 1) / criteria.PageSize,
	}, nil
}

// ListUnthreaded 游标分页返回未归入会话的邮件
func (s *Store) ListUnthreaded(_ context.Context, after *domain.EmailCursor, limit int) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*domain.Email, 0)
	for _, e := range s.emails {
		if e.ConversationID != nil {
			continue
		}
		if after != nil && !cursorAfter(e, after) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool { return byDateThenID(candidates[i], candidates[j]) })

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]domain.Email, 0, len(candidates))
	for _, e := range candidates {
		out = append(out, *cloneEmail(e))
	}
	return out, nil
}

// FindEarliestThreadMember 查找会话中最早的邮件
func (s *Store) FindEarliestThreadMember(_ context.Context, senders []string, threadSubject string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest *domain.Email
	for _, e := range s.emails {
		if e.ConversationID == nil || e.ThreadSubject == nil || *e.ThreadSubject != threadSubject {
			continue
		}
		if !containsString(senders, e.SenderEmail) {
			continue
		}
		if earliest == nil || byDateThenID(e, earliest) {
			earliest = e
		}
	}
	if earliest == nil {
		return nil, nil
	}
	return cloneEmail(earliest), nil
}

// ListConversationEmails 按时间升序返回会话邮件
func (s *Store) ListConversationEmails(_ context.Context, conversationID string) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]*domain.Email, 0)
	for _, e := range s.emails {
		if e.ConversationID != nil && *e.ConversationID == conversationID {
			members = append(members, e)
		}
	}
	sort.Slice(members, func(i, j int) bool { return byDateThenID(members[i], members[j]) })

	out := make([]domain.Email, 0, len(members))
	for _, e := range members {
		out = append(out, *s.withAttachmentsLocked(e))
	}
	return out, nil
}

// CountEmails 按条件计数
func (s *Store) CountEmails(_ context.Context, filter domain.EmailCountFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.emails {
		if matchesCountFilter(e, filter) {
			n++
		}
	}
	return n, nil
}

// CountConversations 统计不同会话的数量
func (s *Store) CountConversations(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range s.emails {
		if e.ConversationID != nil {
			seen[*e.ConversationID] = struct{}{}
		}
	}
	return len(seen), nil
}

// TopSenderDomains 按邮件数量返回发件域名排行
func (s *Store) TopSenderDomains(_ context.Context, limit int) ([]domain.NamedCount, error) {
	return s.topBy(limit, func(e *domain.Email) string { return e.SenderDomain }), nil
}

// TopCompanies 按邮件数量返回公司排行
func (s *Store) TopCompanies(_ context.Context, limit int) ([]domain.NamedCount, error) {
	return s.topBy(limit, func(e *domain.Email) string { return e.CompanyName }), nil
}

// DeleteEmailsBefore 删除早于指定时间的邮件及其附件和日志
func (s *Store) DeleteEmailsBefore(_ context.Context, before time.Time) (int, []domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := make(map[string]struct{})
	for id, e := range s.emails {
		if e.DateReceived.Before(before) {
			deleted[id] = struct{}{}
			delete(s.byMessageID, e.MessageID)
			delete(s.emails, id)
		}
	}

	removed := make([]domain.Attachment, 0)
	for id, a := range s.attachments {
		if _, ok := deleted[a.EmailID]; ok {
			removed = append(removed, *a)
			delete(s.attachments, id)
		}
	}

	kept := s.logs[:0]
	for _, l := range s.logs {
		if _, ok := deleted[l.EmailID]; !ok {
			kept = append(kept, l)
		}
	}
	s.logs = kept

	return len(deleted), removed, nil
}

// CreateAttachment 保存附件元数据
func (s *Store) CreateAttachment(_ context.Context, attachment *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[attachment.EmailID]; !ok {
		return storage.ErrEmailNotFound
	}
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now().UTC()
	}
	cp := *attachment
	s.attachments[attachment.ID] = &cp
	return nil
}

// GetAttachment 获取附件元数据
func (s *Store) GetAttachment(_ context.Context, id string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attachments[id]
	if !ok {
		return nil, storage.ErrAttachmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) withAttachmentsLocked(e *domain.Email) *domain.Email {
	cp := cloneEmail(e)
	cp.Attachments = make([]domain.Attachment, 0)
	for _, a := range s.attachments {
		if a.EmailID == e.ID {
			cp.Attachments = append(cp.Attachments, *a)
		}
	}
	sort.Slice(cp.Attachments, func(i, j int) bool {
		return cp.Attachments[i].CreatedAt.Before(cp.Attachments[j].CreatedAt)
	})
	return cp
}

func (s *Store) conversationSummaryLocked(e *domain.Email) (int, *time.Time) {
	latest := e.DateReceived
	if e.ConversationID == nil {
		return 1, &latest
	}
	count := 0
	for _, other := range s.emails {
		if other.ConversationID != nil && *other.ConversationID == *e.ConversationID {
			count++
			if other.DateReceived.After(latest) {
				latest = other.DateReceived
			}
		}
	}
	return count, &latest
}

func (s *Store) topBy(limit int, key func(*domain.Email) string) []domain.NamedCount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range s.emails {
		if k := key(e); k != "" {
			counts[k]++
		}
	}
	return topN(counts, limit)
}

func topN(counts map[string]int, limit int) []domain.NamedCount {
	out := make([]domain.NamedCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, domain.NamedCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesSearch(e *domain.Email, needle string) bool {
	for _, field := range []string{e.SenderEmail, e.SenderName, e.CompanyName, e.Subject} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func matchesCountFilter(e *domain.Email, f domain.EmailCountFilter) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Since != nil && e.DateReceived.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.DateReceived.Before(*f.Until) {
		return false
	}
	if f.HasAttachments != nil && e.HasAttachments != *f.HasAttachments {
		return false
	}
	if f.SenderManual != nil && e.IsSenderNameManual != *f.SenderManual {
		return false
	}
	if f.CompanyManual != nil && e.IsCompanyNameManual != *f.CompanyManual {
		return false
	}
	if f.Threaded != nil && (e.ConversationID != nil) != *f.Threaded {
		return false
	}
	if f.RootsOnly && !(e.IsConversationRoot && e.ConversationID != nil) {
		return false
	}
	return true
}

func emailLess(sortBy string) func(a, b *domain.Email) bool {
	var key func(*domain.Email) string
	switch sortBy {
	case "senderEmail":
		key = func(e *domain.Email) string { return strings.ToLower(e.SenderEmail) }
	case "senderName":
		key = func(e *domain.Email) string { return strings.ToLower(e.SenderName) }
	case "companyName":
		key = func(e *domain.Email) string { return strings.ToLower(e.CompanyName) }
	case "subject":
		key = func(e *domain.Email) string { return strings.ToLower(e.Subject) }
	case "status":
		key = func(e *domain.Email) string { return string(e.Status) }
	default:
		return byDateThenID
	}
	return func(a, b *domain.Email) bool {
		ka, kb := key(a), key(b)
		if ka != kb {
			return ka < kb
		}
		return byDateThenID(a, b)
	}
}

func byDateThenID(a, b *domain.Email) bool {
	if !a.DateReceived.Equal(b.DateReceived) {
		return a.DateReceived.Before(b.DateReceived)
	}
	return a.ID < b.ID
}

func cursorAfter(e *domain.Email, c *domain.EmailCursor) bool {
	if !e.DateReceived.Equal(c.DateReceived) {
		return e.DateReceived.After(c.DateReceived)
	}
	return e.ID > c.ID
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func cloneEmail(e *domain.Email) *domain.Email {
	cp := *e
	cp.ReadByUserID = cloneString(e.ReadByUserID)
	cp.ReadAt = cloneTime(e.ReadAt)
	cp.LastActionUserID = cloneString(e.LastActionUserID)
	cp.LastActionAt = cloneTime(e.LastActionAt)
	cp.ConversationID = cloneString(e.ConversationID)
	cp.ThreadSubject = cloneString(e.ThreadSubject)
	if e.Attachments != nil {
		cp.Attachments = append([]domain.Attachment(nil), e.Attachments...)
	}
	return &cp
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
