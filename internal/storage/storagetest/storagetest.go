// Package storagetest 提供各存储实现共用的行为测试。
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// Factory 为每个子测试返回一个空的存储
type Factory func(t *testing.T) storage.Store

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// NewEmail 构造测试邮件，offset 决定 dateReceived
func NewEmail(sender, subject string, offset time.Duration) *domain.Email {
	id := uuid.NewString()
	return &domain.Email{
		ID:           id,
		MessageID:    fmt.Sprintf("<%s@test>", id),
		DateReceived: base.Add(offset),
		SenderEmail:  sender,
		SenderDomain: domainOf(sender),
		SenderName:   "Sender",
		CompanyName:  "Acme",
		Subject:      subject,
		Status:       domain.StatusUnread,
	}
}

func domainOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return ""
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// Run 执行全部存储行为测试
func Run(t *testing.T, newStore Factory) {
	t.Run("邮件", func(t *testing.T) { testEmails(t, newStore(t)) })
	t.Run("会话查询", func(t *testing.T) { testConversationQueries(t, newStore(t)) })
	t.Run("列表查询", func(t *testing.T) { testListEmails(t, newStore(t)) })
	t.Run("统计", func(t *testing.T) { testCounts(t, newStore(t)) })
	t.Run("清理", func(t *testing.T) { testCleanup(t, newStore(t)) })
	t.Run("用户", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("操作日志", func(t *testing.T) { testActionLogs(t, newStore(t)) })
	t.Run("邮件配置", func(t *testing.T) { testSettings(t, newStore(t)) })
}

func testEmails(t *testing.T, s storage.Store) {
	ctx := context.Background()

	e := NewEmail("a@acme.com", "Hello", 0)
	require.NoError(t, s.CreateEmail(ctx, e))

	dup := NewEmail("a@acme.com", "Hello", time.Minute)
	dup.MessageID = e.MessageID
	assert.ErrorIs(t, s.CreateEmail(ctx, dup), storage.ErrEmailExists)

	got, err := s.GetEmailByMessageID(ctx, e.MessageID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Nil(t, got.ConversationID)
	assert.False(t, got.IsConversationRoot)

	_, err = s.GetEmail(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrEmailNotFound)

	later := NewEmail("a@acme.com", "Second", time.Hour)
	later.CompanyName = "Acme Corp"
	later.IsConversationRoot = true
	require.NoError(t, s.CreateEmail(ctx, later))
	gotLater, err := s.GetEmail(ctx, later.ID)
	require.NoError(t, err)
	assert.True(t, gotLater.IsConversationRoot)

	latest, err := s.FindLatestBySender(ctx, "a@acme.com")
	require.NoError(t, err)
	assert.Equal(t, later.ID, latest.ID)
	_, err = s.FindLatestBySender(ctx, "nobody@acme.com")
	assert.ErrorIs(t, err, storage.ErrEmailNotFound)

	att := &domain.Attachment{ID: uuid.NewString(), EmailID: e.ID, Filename: "1-x-a.txt", OriginalFilename: "a.txt", FileSize: 3, MimeType: "text/plain", FilePath: "1-x-a.txt"}
	require.NoError(t, s.CreateAttachment(ctx, att))
	gotAtt, err := s.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", gotAtt.OriginalFilename)
	assert.Equal(t, "1-x-a.txt", gotAtt.FilePath)
	_, err = s.GetAttachment(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)

	got, err = s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, att.ID, got.Attachments[0].ID)

	readAt := base.Add(2 * time.Hour)
	got.Status = domain.StatusRead
	got.ReadByUserID = strPtr("u1")
	got.ReadAt = &readAt
	got.SenderName = "Alice"
	got.IsSenderNameManual = true
	require.NoError(t, s.UpdateEmail(ctx, got))

	got, err = s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, got.Status)
	require.NotNil(t, got.ReadByUserID)
	assert.Equal(t, "u1", *got.ReadByUserID)
	assert.Equal(t, "Alice", got.SenderName)
	assert.True(t, got.IsSenderNameManual)

	other := NewEmail("b@acme.com", "Other", 3*time.Hour)
	other.IsCompanyNameManual = true
	other.CompanyName = "Kept"
	require.NoError(t, s.CreateEmail(ctx, other))
	foreign := NewEmail("c@globex.com", "Other", 4*time.Hour)
	require.NoError(t, s.CreateEmail(ctx, foreign))

	n, err := s.UpdateCompanyByDomain(ctx, "acme.com", "ACME Ltd")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	kept, err := s.GetEmail(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kept", kept.CompanyName)
	renamed, err := s.GetEmail(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACME Ltd", renamed.CompanyName)
	assert.True(t, renamed.IsCompanyNameManual)
	untouched, err := s.GetEmail(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", untouched.CompanyName)
}

func testConversationQueries(t *testing.T, s storage.Store) {
	ctx := context.Background()
	owner := "owner@mail.local"

	first := NewEmail("a@x.com", "Status", 0)
	second := NewEmail(owner, "Re: Status", time.Hour)
	third := NewEmail("a@x.com", "Re: Status", 2*time.Hour)
	loose := NewEmail("b@y.com", "", 30*time.Minute)
	for _, e := range []*domain.Email{third, first, loose, second} {
		require.NoError(t, s.CreateEmail(ctx, e))
	}

	// 游标分页按 (dateReceived, id) 升序
	page, err := s.ListUnthreaded(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, first.ID, page[0].ID)
	assert.Equal(t, loose.ID, page[1].ID)

	cursor := &domain.EmailCursor{DateReceived: page[1].DateReceived, ID: page[1].ID}
	page, err = s.ListUnthreaded(ctx, cursor, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, second.ID, page[0].ID)
	assert.Equal(t, third.ID, page[1].ID)

	match, err := s.FindEarliestThreadMember(ctx, []string{"a@x.com", owner}, "status")
	require.NoError(t, err)
	assert.Nil(t, match)

	c1 := "c1"
	require.NoError(t, s.UpdateConversation(ctx, third.ID, domain.ConversationFields{ConversationID: &c1, ThreadSubject: "status", IsConversationRoot: false}))
	require.NoError(t, s.UpdateConversation(ctx, second.ID, domain.ConversationFields{ConversationID: &c1, ThreadSubject: "status", IsConversationRoot: true}))
	assert.ErrorIs(t, s.UpdateConversation(ctx, "missing", domain.ConversationFields{ConversationID: &c1}), storage.ErrEmailNotFound)

	match, err = s.FindEarliestThreadMember(ctx, []string{"a@x.com", owner}, "status")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, second.ID, match.ID, "收件箱地址一侧的更早邮件")

	match, err = s.FindEarliestThreadMember(ctx, []string{"z@z.com"}, "status")
	require.NoError(t, err)
	assert.Nil(t, match)

	members, err := s.ListConversationEmails(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, second.ID, members[0].ID)
	assert.Equal(t, third.ID, members[1].ID)
	require.NotNil(t, members[0].ThreadSubject)
	assert.Equal(t, "status", *members[0].ThreadSubject)
	assert.True(t, members[0].IsConversationRoot)

	members, err = s.ListConversationEmails(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, members)

	remaining, err := s.ListUnthreaded(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	convs, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, convs)
}

func testListEmails(t *testing.T, s storage.Store) {
	ctx := context.Background()

	root := NewEmail("sales@acme.com", "Quote", 0)
	root.SenderName = "Sales Team"
	reply := NewEmail("sales@acme.com", "Re: Quote", time.Hour)
	loose := NewEmail("jane@globex.com", "Invoice", 2*time.Hour)
	loose.CompanyName = "Globex"
	loose.Status = domain.StatusRead
	for _, e := range []*domain.Email{root, reply, loose} {
		require.NoError(t, s.CreateEmail(ctx, e))
	}
	c := "conv-quote"
	require.NoError(t, s.UpdateConversation(ctx, root.ID, domain.ConversationFields{ConversationID: &c, ThreadSubject: "quote", IsConversationRoot: true}))
	require.NoError(t, s.UpdateConversation(ctx, reply.ID, domain.ConversationFields{ConversationID: &c, ThreadSubject: "quote", IsConversationRoot: false}))

	res, err := s.ListEmails(ctx, domain.EmailSearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Emails, 3)
	assert.Equal(t, loose.ID, res.Emails[0].ID, "默认按接收时间倒序")

	res, err = s.ListEmails(ctx, domain.EmailSearchCriteria{ConversationMode: true, SortOrder: "asc"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	assert.Equal(t, root.ID, res.Emails[0].ID)
	assert.Equal(t, 2, res.Emails[0].ConversationCount)
	require.NotNil(t, res.Emails[0].LatestEmailDate)
	assert.True(t, res.Emails[0].LatestEmailDate.Equal(reply.DateReceived))
	assert.Equal(t, 1, res.Emails[1].ConversationCount)

	res, err = s.ListEmails(ctx, domain.EmailSearchCriteria{Search: "GLOBEX"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, loose.ID, res.Emails[0].ID)

	res, err = s.ListEmails(ctx, domain.EmailSearchCriteria{Search: "sales team"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	res, err = s.ListEmails(ctx, domain.EmailSearchCriteria{Status: domain.StatusUnread})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	res, err = s.ListEmails(ctx, domain.EmailSearchCriteria{PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	assert.Len(t, res.Emails, 1)

	res, err = s.ListEmails(ctx, domain.EmailSearchCriteria{SortBy: "companyName", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", res.Emails[0].CompanyName)
	assert.Equal(t, "Globex", res.Emails[2].CompanyName)
}

func testCounts(t *testing.T, s storage.Store) {
	ctx := context.Background()

	a := NewEmail("a@acme.com", "A", 0)
	a.HasAttachments = true
	b := NewEmail("b@acme.com", "B", 24*time.Hour)
	b.Status = domain.StatusReplied
	b.IsSenderNameManual = true
	c := NewEmail("c@globex.com", "C", 48*time.Hour)
	c.CompanyName = "Globex"
	c.IsCompanyNameManual = true
	for _, e := range []*domain.Email{a, b, c} {
		require.NoError(t, s.CreateEmail(ctx, e))
	}
	conv := "conv"
	require.NoError(t, s.UpdateConversation(ctx, a.ID, domain.ConversationFields{ConversationID: &conv, ThreadSubject: "a", IsConversationRoot: true}))

	count := func(f domain.EmailCountFilter) int {
		n, err := s.CountEmails(ctx, f)
		require.NoError(t, err)
		return n
	}

	since := base.Add(12 * time.Hour)
	until := base.Add(36 * time.Hour)
	assert.Equal(t, 3, count(domain.EmailCountFilter{}))
	assert.Equal(t, 1, count(domain.EmailCountFilter{Status: domain.StatusReplied}))
	assert.Equal(t, 2, count(domain.EmailCountFilter{Since: &since}))
	assert.Equal(t, 1, count(domain.EmailCountFilter{Since: &since, Until: &until}))
	assert.Equal(t, 1, count(domain.EmailCountFilter{HasAttachments: boolPtr(true)}))
	assert.Equal(t, 1, count(domain.EmailCountFilter{SenderManual: boolPtr(true)}))
	assert.Equal(t, 1, count(domain.EmailCountFilter{CompanyManual: boolPtr(true)}))
	assert.Equal(t, 1, count(domain.EmailCountFilter{Threaded: boolPtr(true)}))
	assert.Equal(t, 2, count(domain.EmailCountFilter{Threaded: boolPtr(false)}))
	assert.Equal(t, 1, count(domain.EmailCountFilter{RootsOnly: true}))

	domains, err := s.TopSenderDomains(ctx, 10)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, domain.NamedCount{Name: "acme.com", Count: 2}, domains[0])

	companies, err := s.TopCompanies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "Acme", companies[0].Name)
}

func testCleanup(t *testing.T, s storage.Store) {
	ctx := context.Background()

	old := NewEmail("a@acme.com", "Old", 0)
	fresh := NewEmail("a@acme.com", "Fresh", 72*time.Hour)
	require.NoError(t, s.CreateEmail(ctx, old))
	require.NoError(t, s.CreateEmail(ctx, fresh))
	att := &domain.Attachment{ID: uuid.NewString(), EmailID: old.ID, Filename: "f", FilePath: "f", MimeType: "text/plain"}
	require.NoError(t, s.CreateAttachment(ctx, att))
	require.NoError(t, s.CreateActionLog(ctx, &domain.ActionLog{ID: uuid.NewString(), EmailID: old.ID, ActionType: domain.ActionMarkRead}))

	deleted, attachments, err := s.DeleteEmailsBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	require.Len(t, attachments, 1)
	assert.Equal(t, "f", attachments[0].FilePath)

	_, err = s.GetEmail(ctx, old.ID)
	assert.ErrorIs(t, err, storage.ErrEmailNotFound)
	_, err = s.GetAttachment(ctx, att.ID)
	assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)
	logs, err := s.ListActionLogs(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = s.GetEmail(ctx, fresh.ID)
	assert.NoError(t, err)
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	admin := &domain.User{ID: uuid.NewString(), Username: "admin", Email: "admin@mailport.local", PasswordHash: "h", FullName: "Admin", Role: domain.RoleAdmin, IsActive: true}
	support := &domain.User{ID: uuid.NewString(), Username: "destek", Email: "destek@mailport.local", PasswordHash: "h", FullName: "Destek", Role: domain.RoleSupport, IsActive: false}
	require.NoError(t, s.CreateUser(ctx, admin))
	require.NoError(t, s.CreateUser(ctx, support))

	dupName := &domain.User{ID: uuid.NewString(), Username: "admin", Email: "x@mailport.local", PasswordHash: "h", Role: domain.RoleSupport}
	assert.ErrorIs(t, s.CreateUser(ctx, dupName), storage.ErrUsernameExists)
	dupEmail := &domain.User{ID: uuid.NewString(), Username: "other", Email: "admin@mailport.local", PasswordHash: "h", Role: domain.RoleSupport}
	assert.ErrorIs(t, s.CreateUser(ctx, dupEmail), storage.ErrUserEmailExists)

	got, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)
	assert.Equal(t, "h", got.PasswordHash)
	got, err = s.GetUserByEmail(ctx, "destek@mailport.local")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	login := base.Add(time.Hour)
	require.NoError(t, s.UpdateLastLogin(ctx, admin.ID, login))
	got, err = s.GetUserByID(ctx, admin.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(login))

	got.FullName = "Root Admin"
	got.Username = "root"
	require.NoError(t, s.UpdateUser(ctx, got))
	_, err = s.GetUserByUsername(ctx, "admin")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	got, err = s.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, "Root Admin", got.FullName)

	got.Username = "destek"
	assert.ErrorIs(t, s.UpdateUser(ctx, got), storage.ErrUsernameExists)

	counts, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.UserCounts{Total: 2, Active: 1, Admin: 1, Support: 1}, counts)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, s.DeleteUser(ctx, support.ID))
	assert.ErrorIs(t, s.DeleteUser(ctx, support.ID), storage.ErrUserNotFound)
}

func testActionLogs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := NewEmail("a@acme.com", "A", 0)
	require.NoError(t, s.CreateEmail(ctx, e))

	now := time.Now().UTC().Truncate(time.Second)
	logs := []*domain.ActionLog{
		{ID: uuid.NewString(), EmailID: e.ID, ActionType: domain.ActionMarkRead, UserIP: "10.0.0.1", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: uuid.NewString(), EmailID: e.ID, ActionType: domain.ActionForward, NewValue: "to@x.com", UserIP: "10.0.0.1", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: uuid.NewString(), EmailID: e.ID, ActionType: domain.ActionReply, UserIP: "10.0.0.2", CreatedAt: now.Add(-time.Hour)},
		{ID: uuid.NewString(), EmailID: e.ID, ActionType: domain.ActionEditCompany, UserIP: "10.0.0.1", CreatedAt: now.Add(-40 * 24 * time.Hour)},
	}
	for _, l := range logs {
		require.NoError(t, s.CreateActionLog(ctx, l))
	}

	history, err := s.ListActionLogs(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, domain.ActionReply, history[0].ActionType, "最新的在前")
	assert.Equal(t, domain.ActionEditCompany, history[3].ActionType)

	total, err := s.CountActions(ctx, domain.ActionCountFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	edits, err := s.CountActions(ctx, domain.ActionCountFilter{Types: []domain.ActionType{domain.ActionEditCompany, domain.ActionEditSender}})
	require.NoError(t, err)
	assert.Equal(t, 1, edits)

	since := now.Add(-30 * 24 * time.Hour)
	recent, err := s.CountActions(ctx, domain.ActionCountFilter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, 3, recent)

	daily, err := s.DailyActionCounts(ctx, since)
	require.NoError(t, err)
	sum := 0
	for _, d := range daily {
		sum += d.Count
		assert.Len(t, d.Date, len("2006-01-02"))
	}
	assert.Equal(t, 3, sum)

	ips, err := s.TopActionIPs(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, ips)
	assert.Equal(t, domain.NamedCount{Name: "10.0.0.1", Count: 3}, ips[0])
}

func testSettings(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.GetMailSettings(ctx)
	assert.ErrorIs(t, err, storage.ErrSettingsNotFound)

	in := &domain.MailSettings{SMTPHost: "smtp.example.com", SMTPPort: 587, SMTPUser: "bot", SMTPPassword: "secret", IMAPHost: "imap.example.com", IMAPPort: 993, IMAPTLS: true, DefaultForwardEmail: "ops@example.com"}
	require.NoError(t, s.SaveMailSettings(ctx, in))

	in.SMTPPort = 465
	in.SMTPSecure = true
	require.NoError(t, s.SaveMailSettings(ctx, in))

	got, err := s.GetMailSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SettingsID, got.ID)
	assert.Equal(t, 465, got.SMTPPort)
	assert.True(t, got.SMTPSecure)
	assert.Equal(t, "secret", got.SMTPPassword)
	assert.Equal(t, "ops@example.com", got.DefaultForwardEmail)
}
