package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/conversation"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/inbound"
	"mailport/backend/internal/mailparse"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/security"
	"mailport/backend/internal/storage"
)

// IngestService 把解析后的邮件写入存储
type IngestService struct {
	store    storage.Store
	blobs    storage.BlobStore
	resolver *conversation.Resolver
	inline   bool
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	locks    *keyedMutex
	now      func() time.Time
}

// NewIngestService 创建入库服务
//
// mode 为 config.ThreadingInline 时入库前同步识别会话，否则留给后台整理任务。
func NewIngestService(store storage.Store, blobs storage.BlobStore, resolver *conversation.Resolver, mode string, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		store:    store,
		blobs:    blobs,
		resolver: resolver,
		inline:   mode == config.ThreadingInline,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics 设置监控指标
func (s *IngestService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// ProcessEmail 入库一封邮件
//
// 相同 Message-ID 的邮件只保存一次，重复调用返回已有记录。
// 邮件行先于附件提交，单个附件保存失败只记录日志。
func (s *IngestService) ProcessEmail(ctx context.Context, msg domain.InboundMessage) (*domain.Email, error) {
	start := time.Now()
	now := s.now()

	source := msg.Source
	if source == "" {
		source = "api"
	}

	messageID := strings.TrimSpace(msg.MessageID)
	if messageID == "" {
		messageID = fmt.Sprintf("%d-%s", now.UnixMilli(), randomToken())
	}
	sender := strings.ToLower(strings.TrimSpace(msg.FromAddress))

	unlock := s.locks.Lock(threadLockKey(messageID, msg.Subject))
	defer unlock()

	existing, err := s.store.GetEmailByMessageID(ctx, messageID)
	if err == nil {
		s.metrics.RecordIngest(source, monitoring.IngestDuplicate, 0)
		return existing, nil
	}
	if !errors.Is(err, storage.ErrEmailNotFound) {
		s.metrics.RecordIngest(source, monitoring.IngestFailed, 0)
		return nil, fmt.Errorf("lookup message id: %w", err)
	}

	rawName := strings.TrimSpace(msg.FromName)
	if rawName == "" {
		rawName = sender
	}
	senderName := mailparse.ExtractSenderName(rawName)

	companyName, err := s.companyFor(ctx, sender, senderName)
	if err != nil {
		s.metrics.RecordIngest(source, monitoring.IngestFailed, 0)
		return nil, err
	}

	email := &domain.Email{
		ID:             uuid.NewString(),
		MessageID:      messageID,
		DateReceived:   inbound.ReceivedAt(&msg, now),
		SenderEmail:    sender,
		SenderDomain:   mailparse.SenderDomain(sender),
		SenderName:     senderName,
		CompanyName:    companyName,
		Subject:        msg.Subject,
		Content:        msg.Text,
		HTMLContent:    msg.HTML,
		HasAttachments: len(msg.Attachments) > 0,
		Status:         domain.StatusUnread,
		// 未归入会话的邮件自成一个根
		IsConversationRoot: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if s.inline {
		s.detectConversation(ctx, email)
	}

	if err := s.store.CreateEmail(ctx, email); err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			s.metrics.RecordIngest(source, monitoring.IngestDuplicate, 0)
			return s.store.GetEmailByMessageID(ctx, messageID)
		}
		s.metrics.RecordIngest(source, monitoring.IngestFailed, 0)
		return nil, fmt.Errorf("create email: %w", err)
	}

	for _, att := range msg.Attachments {
		saved, err := s.saveAttachment(ctx, email.ID, att)
		if err != nil {
			s.metrics.RecordAttachmentFailed()
			s.logger.Warn("附件保存失败",
				zap.String("email_id", email.ID),
				zap.String("filename", att.Filename),
				zap.Error(err),
			)
			continue
		}
		email.Attachments = append(email.Attachments, *saved)
	}

	s.metrics.RecordIngest(source, monitoring.IngestStored, time.Since(start))
	s.logger.Info("邮件已入库",
		zap.String("email_id", email.ID),
		zap.String("message_id", messageID),
		zap.String("sender", sender),
		zap.Int("attachments", len(email.Attachments)),
	)
	return email, nil
}

// companyFor 优先沿用该发件人最近一封邮件的公司名，人工修正因此会延续到新邮件
func (s *IngestService) companyFor(ctx context.Context, sender, senderName string) (string, error) {
	if sender != "" {
		prev, err := s.store.FindLatestBySender(ctx, sender)
		switch {
		case err == nil:
			if prev.CompanyName != "" {
				return prev.CompanyName, nil
			}
		case !errors.Is(err, storage.ErrEmailNotFound):
			return "", fmt.Errorf("find previous email: %w", err)
		}
	}
	return mailparse.ExtractCompanyName(sender, senderName), nil
}

// detectConversation 失败时保持未归并，由整理任务补齐
func (s *IngestService) detectConversation(ctx context.Context, email *domain.Email) {
	info, err := s.resolver.Detect(ctx, email.SenderEmail, email.Subject)
	if err != nil {
		s.logger.Warn("会话识别失败，留待整理任务处理",
			zap.String("message_id", email.MessageID),
			zap.Error(err),
		)
		return
	}
	info.Apply(email)
}

func (s *IngestService) saveAttachment(ctx context.Context, emailID string, att domain.InboundAttachment) (*domain.Attachment, error) {
	now := s.now()
	name := fmt.Sprintf("%d-%s-%s", now.UnixMilli(), randomToken(), security.SafeFilename(att.Filename))

	if security.IsExecutable(att.Filename, att.Content) {
		s.logger.Warn("收到可执行附件", zap.String("email_id", emailID), zap.String("filename", att.Filename))
	}

	location, err := s.blobs.Put(ctx, name, att.Content)
	if err != nil {
		return nil, err
	}

	size := att.Size
	if size <= 0 {
		size = int64(len(att.Content))
	}

	attachment := &domain.Attachment{
		ID:               uuid.NewString(),
		EmailID:          emailID,
		Filename:         name,
		OriginalFilename: att.Filename,
		FileSize:         size,
		MimeType:         att.ContentType,
		FilePath:         location,
		CreatedAt:        now,
	}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		if delErr := s.blobs.Delete(ctx, location); delErr != nil {
			s.logger.Warn("清理附件文件失败", zap.String("location", location), zap.Error(delErr))
		}
		return nil, err
	}
	return attachment, nil
}

// threadLockKey 同一规整主题的邮件串行入库
//
// 会话查询同时匹配发件人和收件箱地址，只按发件人加锁时，收件箱发出的邮件
// 与对方来信可能并发各自建立根邮件。主题为空的邮件不参与归并，按 Message-ID 加锁。
func threadLockKey(messageID, subject string) string {
	if normalized := conversation.NormalizeSubject(subject); normalized != "" {
		return "subject|" + normalized
	}
	return "message|" + messageID
}

// randomToken 生成文件名和合成 Message-ID 使用的随机串
func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
