package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
	"mailport/backend/internal/storage/filesystem"
)

// ErrMailNotConfigured 尚未配置外发服务器
var ErrMailNotConfigured = errors.New("smtp server not configured")

// MailSender 通过指定服务器发送邮件
type MailSender interface {
	Send(ctx context.Context, server domain.SMTPServer, msg domain.OutboundMessage) error
}

// UsageReporter 返回附件目录占用情况
type UsageReporter interface {
	Usage() (filesystem.Usage, error)
}

// TestEmailInput 测试邮件
type TestEmailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// SettingsService 邮件配置、系统信息与数据清理
type SettingsService struct {
	store   storage.Store
	blobs   storage.BlobStore
	usage   UsageReporter
	sender  MailSender
	cfg     *config.Config
	logger  *zap.Logger
	started time.Time
	now     func() time.Time
}

// NewSettingsService 创建配置服务，usage 可为 nil
func NewSettingsService(store storage.Store, blobs storage.BlobStore, usage UsageReporter, sender MailSender, cfg *config.Config, logger *zap.Logger) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{
		store:   store,
		blobs:   blobs,
		usage:   usage,
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Effective 返回当前生效的配置：已保存的配置优先，否则使用启动配置
func (s *SettingsService) Effective(ctx context.Context) (*domain.MailSettings, error) {
	saved, err := s.store.GetMailSettings(ctx)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, storage.ErrSettingsNotFound) {
		return nil, err
	}

	return &domain.MailSettings{
		ID:                  domain.SettingsID,
		SMTPHost:            s.cfg.SMTP.Host,
		SMTPPort:            s.cfg.SMTP.Port,
		SMTPSecure:          s.cfg.SMTP.Secure,
		SMTPUser:            s.cfg.SMTP.User,
		SMTPPassword:        s.cfg.SMTP.Password,
		IMAPHost:            s.cfg.IMAP.Host,
		IMAPPort:            s.cfg.IMAP.Port,
		IMAPTLS:             s.cfg.IMAP.TLS,
		IMAPUser:            s.cfg.IMAP.User,
		IMAPPassword:        s.cfg.IMAP.Password,
		DefaultForwardEmail: s.cfg.Mail.DefaultForwardEmail,
	}, nil
}

// Save 合并修改并保存，空密码保留原值
func (s *SettingsService) Save(ctx context.Context, update domain.MailSettingsUpdate) (*domain.MailSettings, error) {
	current, err := s.Effective(ctx)
	if err != nil {
		return nil, err
	}

	next := *current
	update.Apply(&next)
	next.ID = domain.SettingsID
	next.DefaultForwardEmail = strings.TrimSpace(next.DefaultForwardEmail)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()

	if err := s.store.SaveMailSettings(ctx, &next); err != nil {
		return nil, fmt.Errorf("save mail settings: %w", err)
	}
	s.logger.Info("邮件配置已更新",
		zap.String("smtp_host", next.SMTPHost),
		zap.String("imap_host", next.IMAPHost),
	)
	return &next, nil
}

// Send 使用当前配置发送邮件，未指定发件人时使用配置的发件地址
func (s *SettingsService) Send(ctx context.Context, msg domain.OutboundMessage) error {
	settings, err := s.Effective(ctx)
	if err != nil {
		return err
	}
	if settings.SMTPHost == "" || s.sender == nil {
		return ErrMailNotConfigured
	}
	if msg.From == "" {
		msg.From = s.cfg.SMTP.From
	}
	if msg.From == "" {
		msg.From = settings.SMTPUser
	}
	return s.sender.Send(ctx, settings.SMTPServer(), msg)
}

// DefaultForward 返回默认转发地址
func (s *SettingsService) DefaultForward(ctx context.Context) (string, error) {
	settings, err := s.Effective(ctx)
	if err != nil {
		return "", err
	}
	return settings.DefaultForwardEmail, nil
}

// SendTestEmail 发送测试邮件
func (s *SettingsService) SendTestEmail(ctx context.Context, in TestEmailInput) error {
	to := strings.TrimSpace(in.To)
	if err := domain.ValidateEmail(to); err != nil {
		return err
	}

	subject := in.Subject
	if subject == "" {
		subject = "MailPort test email"
	}
	content := in.Content
	if content == "" {
		content = "This is a test email sent from MailPort."
	}

	return s.Send(ctx, domain.OutboundMessage{
		To:      []string{to},
		Subject: subject,
		Text:    content,
		HTML:    "<p>" + strings.ReplaceAll(content, "\n", "<br>") + "</p>",
	})
}

// SystemInfo 运行环境与存储占用
func (s *SettingsService) SystemInfo(ctx context.Context) (*domain.SystemInfo, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := &domain.SystemInfo{
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS,
		Arch:          runtime.GOARCH,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
	info.Memory.AllocMB = toMB(int64(mem.Alloc))
	info.Memory.SysMB = toMB(int64(mem.Sys))
	info.Database.Type = s.cfg.Database.Type

	size, err := s.store.DatabaseSize(ctx)
	if err != nil {
		s.logger.Warn("获取数据库大小失败", zap.Error(err))
	}
	info.Database.SizeBytes = size

	if s.usage != nil {
		usage, err := s.usage.Usage()
		if err != nil {
			s.logger.Warn("统计附件目录失败", zap.Error(err))
		}
		info.Uploads.Count = usage.Files
		info.Uploads.SizeMB = toMB(usage.Bytes)
	}
	return info, nil
}

// Cleanup 删除 olderThanDays 天前收到的邮件，deleteAttachments 为 true 时同时删除附件文件
func (s *SettingsService) Cleanup(ctx context.Context, olderThanDays int, deleteAttachments bool) (*domain.CleanupResult, error) {
	if err := domain.ValidateRetentionDays(olderThanDays); err != nil {
		return nil, err
	}

	cutoff := s.now().AddDate(0, 0, -olderThanDays)
	deleted, attachments, err := s.store.DeleteEmailsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete old emails: %w", err)
	}

	result := &domain.CleanupResult{DeletedEmails: deleted}
	if deleteAttachments {
		for _, att := range attachments {
			if err := s.blobs.Delete(ctx, att.FilePath); err != nil {
				s.logger.Warn("删除附件文件失败", zap.String("location", att.FilePath), zap.Error(err))
				continue
			}
			result.DeletedFiles++
		}
	}

	s.logger.Info("数据清理完成",
		zap.Time("cutoff", cutoff),
		zap.Int("deleted_emails", result.DeletedEmails),
		zap.Int("deleted_files", result.DeletedFiles),
	)
	return result, nil
}

func toMB(bytes int64) float64 {
	return float64(bytes*100/(1024*1024)) / 100
}
