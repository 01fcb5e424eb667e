package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/mailparse"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/security"
	"mailport/backend/internal/storage"
)

var (
	// ErrRecipientRequired 转发时既未指定收件人也没有默认转发地址
	ErrRecipientRequired = errors.New("forward recipient required")
	// ErrReplyContentRequired 回复内容为空
	ErrReplyContentRequired = errors.New("reply content required")
	// ErrNotImage 附件不是可预览的图片
	ErrNotImage = errors.New("attachment is not an image")
)

const forwardDateLayout = "2006-01-02 15:04:05 MST"

// ForwardInput 转发参数，To 为空时使用默认转发地址
type ForwardInput struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// ReplyInput 回复参数，Subject 为空时使用 "Re: 原主题"
type ReplyInput struct {
	Content string `json:"content"`
	Subject string `json:"subject"`
}

// AttachmentContent 附件元数据与内容
type AttachmentContent struct {
	Attachment domain.Attachment
	Data       []byte
}

// EmailService 邮件查询与人工处理
type EmailService struct {
	store    storage.Store
	blobs    storage.BlobStore
	settings *SettingsService
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewEmailService 创建邮件服务
func NewEmailService(store storage.Store, blobs storage.BlobStore, settings *SettingsService, logger *zap.Logger) *EmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailService{
		store:    store,
		blobs:    blobs,
		settings: settings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics 设置监控指标
func (s *EmailService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// List 分页查询邮件
func (s *EmailService) List(ctx context.Context, criteria domain.EmailSearchCriteria) (*domain.EmailSearchResult, error) {
	criteria.Normalize()
	result, err := s.store.ListEmails(ctx, criteria)
	if err != nil {
		return nil, err
	}

	users := newUserLoader(s.store)
	for i := range result.Emails {
		users.attach(ctx, &result.Emails[i].Email)
	}
	return result, nil
}

// Get 返回邮件详情，未读邮件会被标记为已读并记录日志
func (s *EmailService) Get(ctx context.Context, id string, actor domain.Actor) (*domain.Email, error) {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}

	if email.Status == domain.StatusUnread {
		now := s.now()
		email.Status = domain.StatusRead
		email.ReadByUserID = &actor.UserID
		email.ReadAt = &now
		email.UpdatedAt = now
		if err := s.store.UpdateEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		s.log(ctx, email.ID, domain.ActionMarkRead, string(domain.StatusUnread), string(domain.StatusRead), actor)
	}

	newUserLoader(s.store).attach(ctx, email)
	return email, nil
}

// History 按时间倒序返回邮件的操作日志
func (s *EmailService) History(ctx context.Context, id string) ([]domain.ActionLog, error) {
	if _, err := s.store.GetEmail(ctx, id); err != nil {
		return nil, err
	}

	logs, err := s.store.ListActionLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []domain.ActionLog{}
	}

	users := newUserLoader(s.store)
	for i := range logs {
		logs[i].User = users.get(ctx, logs[i].UserID)
	}
	return logs, nil
}

// Update 人工修改发件人和公司名
//
// UpdateAll 为 true 且给出公司名时，同域名下未人工修改过的邮件一并更新，
// 返回受影响的邮件数。
func (s *EmailService) Update(ctx context.Context, id string, update domain.EmailUpdate, actor domain.Actor) (*domain.Email, int, error) {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	affected := 1
	now := s.now()

	if update.SenderName != nil {
		name := strings.TrimSpace(*update.SenderName)
		s.log(ctx, email.ID, domain.ActionEditSender, email.SenderName, name, actor)
		email.SenderName = name
		email.IsSenderNameManual = true
	}

	if update.CompanyName != nil {
		company := strings.TrimSpace(*update.CompanyName)
		domainName := email.SenderDomain
		if domainName == "" {
			domainName = mailparse.SenderDomain(email.SenderEmail)
		}

		if update.UpdateAll && company != "" && domainName != "" {
			n, err := s.store.UpdateCompanyByDomain(ctx, domainName, company)
			if err != nil {
				return nil, 0, fmt.Errorf("update company by domain: %w", err)
			}
			if n > 0 {
				affected = int(n)
			}
			s.log(ctx, email.ID, domain.ActionEditCompany, email.CompanyName,
				fmt.Sprintf("%s (%d emails updated - domain: %s)", company, affected, domainName), actor)
		} else {
			s.log(ctx, email.ID, domain.ActionEditCompany, email.CompanyName, company, actor)
		}
		email.CompanyName = company
		email.IsCompanyNameManual = true
	}

	email.LastActionUserID = &actor.UserID
	email.LastActionAt = &now
	email.UpdatedAt = now
	if err := s.store.UpdateEmail(ctx, email); err != nil {
		return nil, 0, fmt.Errorf("update email: %w", err)
	}

	newUserLoader(s.store).attach(ctx, email)
	return email, affected, nil
}

// Forward 转发邮件
func (s *EmailService) Forward(ctx context.Context, id string, in ForwardInput, actor domain.Actor) error {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return err
	}

	to := strings.TrimSpace(in.To)
	if to == "" {
		if to, err = s.settings.DefaultForward(ctx); err != nil {
			return err
		}
	}
	if to == "" {
		return ErrRecipientRequired
	}
	if err := domain.ValidateEmail(to); err != nil {
		return err
	}

	msg := domain.OutboundMessage{
		To:      []string{to},
		Subject: "Fwd: " + email.Subject,
		Text:    forwardText(email, in.Message),
	}
	if email.HTMLContent != "" {
		msg.HTML = forwardHTML(email, in.Message)
	}

	err = s.settings.Send(ctx, msg)
	s.metrics.RecordOutbound("forward", err)
	if err != nil {
		return fmt.Errorf("send forward: %w", err)
	}

	if err := s.markHandled(ctx, email, domain.StatusForwarded, actor); err != nil {
		return err
	}
	s.log(ctx, email.ID, domain.ActionForward, "", to, actor)
	return nil
}

// Reply 回复发件人
func (s *EmailService) Reply(ctx context.Context, id string, in ReplyInput, actor domain.Actor) error {
	if strings.TrimSpace(in.Content) == "" {
		return ErrReplyContentRequired
	}

	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return err
	}

	subject := in.Subject
	if subject == "" {
		subject = "Re: " + email.Subject
	}

	err = s.settings.Send(ctx, domain.OutboundMessage{
		To:      []string{email.SenderEmail},
		Subject: subject,
		Text:    in.Content,
		HTML:    strings.ReplaceAll(security.SanitizeContent(in.Content), "\n", "<br>"),
	})
	s.metrics.RecordOutbound("reply", err)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	if err := s.markHandled(ctx, email, domain.StatusReplied, actor); err != nil {
		return err
	}
	s.log(ctx, email.ID, domain.ActionReply, "", in.Content, actor)
	return nil
}

// Attachment 读取附件，inline 为 true 时只允许图片
func (s *EmailService) Attachment(ctx context.Context, id string, inline bool) (*AttachmentContent, error) {
	att, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if inline && !security.IsImage(att.MimeType) {
		return nil, ErrNotImage
	}

	data, err := s.blobs.Open(ctx, att.FilePath)
	if err != nil {
		s.logger.Warn("附件文件读取失败",
			zap.String("attachment_id", att.ID),
			zap.String("location", att.FilePath),
			zap.Error(err),
		)
		return nil, storage.ErrAttachmentNotFound
	}
	return &AttachmentContent{Attachment: *att, Data: data}, nil
}

func (s *EmailService) markHandled(ctx context.Context, email *domain.Email, status domain.EmailStatus, actor domain.Actor) error {
	now := s.now()
	email.Status = status
	email.LastActionUserID = &actor.UserID
	email.LastActionAt = &now
	email.UpdatedAt = now
	if err := s.store.UpdateEmail(ctx, email); err != nil {
		return fmt.Errorf("update email status: %w", err)
	}
	return nil
}

// log 写入操作日志，失败不影响主流程
func (s *EmailService) log(ctx context.Context, emailID string, action domain.ActionType, oldValue, newValue string, actor domain.Actor) {
	entry := &domain.ActionLog{
		ID:         uuid.NewString(),
		EmailID:    emailID,
		ActionType: action,
		OldValue:   oldValue,
		NewValue:   newValue,
		UserIP:     actor.IP,
		UserAgent:  actor.UserAgent,
		CreatedAt:  s.now(),
	}
	if actor.UserID != "" {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if err := s.store.CreateActionLog(ctx, entry); err != nil {
		s.logger.Warn("操作日志写入失败",
			zap.String("email_id", emailID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

func forwardText(email *domain.Email, message string) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\n---------- Forwarded message ---------\n")
	b.WriteString("From: " + email.SenderName + " <" + email.SenderEmail + ">\n")
	b.WriteString("Date: " + email.DateReceived.Format(forwardDateLayout) + "\n")
	b.WriteString("Subject: " + email.Subject + "\n\n")
	b.WriteString(email.Content)
	return b.String()
}

func forwardHTML(email *domain.Email, message string) string {
	var b strings.Builder
	b.WriteString("<div>" + strings.ReplaceAll(html.EscapeString(message), "\n", "<br>") + "</div><br>")
	b.WriteString(`<div style="border-left: 2px solid #ccc; padding-left: 10px; margin-left: 10px;">`)
	b.WriteString("<p><strong>---------- Forwarded message ---------</strong></p>")
	b.WriteString("<p><strong>From:</strong> " + html.EscapeString(email.SenderName) + " &lt;" + html.EscapeString(email.SenderEmail) + "&gt;</p>")
	b.WriteString("<p><strong>Date:</strong> " + email.DateReceived.Format(forwardDateLayout) + "</p>")
	b.WriteString("<p><strong>Subject:</strong> " + html.EscapeString(email.Subject) + "</p><br>")
	b.WriteString(email.HTMLContent)
	b.WriteString("</div>")
	return b.String()
}

// ParseActor 组装操作者信息
func ParseActor(userID, ip, userAgent string) domain.Actor {
	if len(userAgent) > 500 {
		userAgent = userAgent[:500]
	}
	return domain.Actor{UserID: userID, IP: ip, UserAgent: userAgent}
}
