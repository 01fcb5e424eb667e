package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

func TestSettingsService_Settings(t *testing.T) {
	ctx := context.Background()

	t.Run("未保存时使用启动配置", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.SMTP.Password = "s3cret"

		settings, err := env.settings.Effective(ctx)
		require.NoError(t, err)
		assert.Equal(t, "smtp.example.com", settings.SMTPHost)
		assert.Equal(t, 587, settings.SMTPPort)
		assert.Equal(t, "s3cret", settings.SMTPPassword)
		assert.Equal(t, "team@example.com", settings.DefaultForwardEmail)
	})

	t.Run("保存时空密码保留原值", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.SMTP.Password = "s3cret"

		host, empty, port := "mail.acme.com", "", 465
		secure := true
		saved, err := env.settings.Save(ctx, domain.MailSettingsUpdate{
			SMTPHost:     &host,
			SMTPPort:     &port,
			SMTPSecure:   &secure,
			SMTPPassword: &empty,
		})
		require.NoError(t, err)
		assert.Equal(t, "s3cret", saved.SMTPPassword)

		stored, err := env.store.GetMailSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, "mail.acme.com", stored.SMTPHost)
		assert.Equal(t, 465, stored.SMTPPort)
		assert.True(t, stored.SMTPSecure)
		assert.Equal(t, "s3cret", stored.SMTPPassword)
	})

	t.Run("无效端口失败", func(t *testing.T) {
		env := newTestEnv(t)
		port := 70000

		_, err := env.settings.Save(ctx, domain.MailSettingsUpdate{SMTPPort: &port})
		assert.ErrorIs(t, err, domain.ErrInvalidPort)

		_, err = env.store.GetMailSettings(ctx)
		assert.ErrorIs(t, err, storage.ErrSettingsNotFound)
	})

	t.Run("发送测试邮件使用已保存的服务器", func(t *testing.T) {
		env := newTestEnv(t)
		host := "mail.acme.com"
		_, err := env.settings.Save(ctx, domain.MailSettingsUpdate{SMTPHost: &host})
		require.NoError(t, err)

		env.sender.On("Send", mock.MatchedBy(func(s domain.SMTPServer) bool {
			return s.Host == "mail.acme.com"
		}), mock.MatchedBy(func(msg domain.OutboundMessage) bool {
			return msg.To[0] == "ops@acme.com" && msg.Subject == "Deneme" && msg.Text == "test"
		})).Return(nil).Once()

		err = env.settings.SendTestEmail(ctx, TestEmailInput{To: "ops@acme.com", Subject: "Deneme", Content: "test"})
		require.NoError(t, err)
		env.sender.AssertExpectations(t)
	})

	t.Run("测试邮件地址无效", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.settings.SendTestEmail(ctx, TestEmailInput{To: "not-an-email"})
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	})

	t.Run("未配置服务器", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.SMTP.Host = ""
		err := env.settings.SendTestEmail(ctx, TestEmailInput{To: "ops@acme.com"})
		assert.ErrorIs(t, err, ErrMailNotConfigured)
	})
}

func TestSettingsService_Cleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	env := newTestEnv(t)
	env.settings.now = func() time.Time { return now }

	old := env.seedEmail(t, "ali@acme.com", "Eski", now.AddDate(0, 0, -40))
	recent := env.seedEmail(t, "ali@acme.com", "Yeni", now.AddDate(0, 0, -5))

	location, err := env.blobs.Put(ctx, "1-abc-eski.pdf", []byte("old"))
	require.NoError(t, err)
	require.NoError(t, env.store.CreateAttachment(ctx, &domain.Attachment{
		ID: "att-1", EmailID: old.ID, Filename: location, OriginalFilename: "eski.pdf", FilePath: location,
	}))

	t.Run("保留天数越界", func(t *testing.T) {
		_, err := env.settings.Cleanup(ctx, 0, true)
		assert.ErrorIs(t, err, domain.ErrInvalidRetention)
		_, err = env.settings.Cleanup(ctx, 366, true)
		assert.ErrorIs(t, err, domain.ErrInvalidRetention)
	})

	t.Run("删除旧邮件和附件文件", func(t *testing.T) {
		result, err := env.settings.Cleanup(ctx, 30, true)
		require.NoError(t, err)
		assert.Equal(t, 1, result.DeletedEmails)
		assert.Equal(t, 1, result.DeletedFiles)

		_, err = env.store.GetEmail(ctx, old.ID)
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)
		_, err = env.store.GetEmail(ctx, recent.ID)
		assert.NoError(t, err)

		_, err = env.blobs.Open(ctx, location)
		assert.Error(t, err)
	})
}

func TestSettingsService_SystemInfo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.blobs.Put(ctx, "a.txt", []byte("hello"))
	require.NoError(t, err)

	info, err := env.settings.SystemInfo(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.GoVersion)
	assert.Equal(t, "memory", info.Database.Type)
	assert.Equal(t, 1, info.Uploads.Count)
	assert.Greater(t, info.Goroutines, 0)
}
