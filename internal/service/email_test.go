package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

func TestEmailService_Get(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.seedUser(t, "destek1", domain.RoleSupport)
	email := env.seedEmail(t, "ali@acme.com", "Teklif", time.Now().UTC())
	svc := NewEmailService(env.store, env.blobs, env.settings, nil)
	actor := domain.Actor{UserID: user.ID, IP: "10.0.0.1", UserAgent: "test"}

	t.Run("首次查看标记为已读", func(t *testing.T) {
		got, err := svc.Get(ctx, email.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRead, got.Status)
		require.NotNil(t, got.ReadByUser)
		assert.Equal(t, "destek1", got.ReadByUser.Username)
		assert.NotNil(t, got.ReadAt)

		logs, err := svc.History(ctx, email.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, domain.ActionMarkRead, logs[0].ActionType)
		assert.Equal(t, "10.0.0.1", logs[0].UserIP)
		require.NotNil(t, logs[0].User)
		assert.Equal(t, user.ID, logs[0].User.ID)
	})

	t.Run("再次查看不重复记录", func(t *testing.T) {
		_, err := svc.Get(ctx, email.ID, actor)
		require.NoError(t, err)

		logs, err := svc.History(ctx, email.ID)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
	})

	t.Run("邮件不存在", func(t *testing.T) {
		_, err := svc.Get(ctx, "missing", actor)
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)

		_, err = svc.History(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)
	})
}

func TestEmailService_List(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	env.seedEmail(t, "ali@acme.com", "Teklif", base)
	env.seedEmail(t, "veli@globex.com", "Fatura", base.Add(time.Hour))
	svc := NewEmailService(env.store, env.blobs, env.settings, nil)

	result, err := svc.List(ctx, domain.EmailSearchCriteria{Search: "fatura"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Page)
	assert.Equal(t, 20, result.PageSize)
	require.Len(t, result.Emails, 1)
	assert.Equal(t, "veli@globex.com", result.Emails[0].SenderEmail)
}

func TestEmailService_Update(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("修改发件人和公司", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.seedUser(t, "destek1", domain.RoleSupport)
		email := env.seedEmail(t, "ali@acme.com", "Teklif", base)
		svc := NewEmailService(env.store, env.blobs, env.settings, nil)

		name, company := "Ali Veli", "Acme A.Ş."
		got, affected, err := svc.Update(ctx, email.ID, domain.EmailUpdate{SenderName: &name, CompanyName: &company}, domain.Actor{UserID: user.ID})

		require.NoError(t, err)
		assert.Equal(t, 1, affected)
		assert.Equal(t, "Ali Veli", got.SenderName)
		assert.True(t, got.IsSenderNameManual)
		assert.Equal(t, "Acme A.Ş.", got.CompanyName)
		assert.True(t, got.IsCompanyNameManual)
		require.NotNil(t, got.LastActionUser)
		assert.Equal(t, user.ID, got.LastActionUser.ID)

		logs, err := svc.History(ctx, email.ID)
		require.NoError(t, err)
		types := []domain.ActionType{}
		for _, l := range logs {
			types = append(types, l.ActionType)
		}
		assert.ElementsMatch(t, []domain.ActionType{domain.ActionEditSender, domain.ActionEditCompany}, types)
	})

	t.Run("同域名批量修改公司", func(t *testing.T) {
		env := newTestEnv(t)
		target := env.seedEmail(t, "ali@acme.com.tr", "A", base)
		sibling := env.seedEmail(t, "veli@acme.com.tr", "B", base.Add(time.Minute))
		manual := env.seedEmail(t, "ayse@acme.com.tr", "C", base.Add(2*time.Minute))
		other := env.seedEmail(t, "x@globex.com", "D", base.Add(3*time.Minute))

		manual.CompanyName = "Elle"
		manual.IsCompanyNameManual = true
		require.NoError(t, env.store.UpdateEmail(ctx, manual))

		svc := NewEmailService(env.store, env.blobs, env.settings, nil)
		company := "Acme Lojistik"
		_, affected, err := svc.Update(ctx, target.ID, domain.EmailUpdate{CompanyName: &company, UpdateAll: true}, domain.Actor{UserID: "u1"})

		require.NoError(t, err)
		assert.Equal(t, 2, affected)

		for id, want := range map[string]string{
			sibling.ID: "Acme Lojistik",
			manual.ID:  "Elle",
			other.ID:   "",
		} {
			got, err := env.store.GetEmail(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got.CompanyName)
		}

		logs, err := env.store.ListActionLogs(ctx, target.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "Acme Lojistik (2 emails updated - domain: acme.com.tr)", logs[0].NewValue)
	})
}

func TestEmailService_ForwardReply(t *testing.T) {
	ctx := context.Background()
	received := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("转发到默认地址", func(t *testing.T) {
		env := newTestEnv(t)
		email := env.seedEmail(t, "ali@acme.com", "Teklif", received)
		svc := NewEmailService(env.store, env.blobs, env.settings, nil)

		env.sender.On("Send", mock.MatchedBy(func(s domain.SMTPServer) bool {
			return s.Host == "smtp.example.com" && s.Port == 587
		}), mock.MatchedBy(func(msg domain.OutboundMessage) bool {
			return msg.Subject == "Fwd: Teklif" &&
				msg.From == "bot@example.com" &&
				len(msg.To) == 1 && msg.To[0] == "team@example.com" &&
				strings.Contains(msg.Text, "---------- Forwarded message ---------") &&
				strings.Contains(msg.Text, "<ali@acme.com>") &&
				msg.HTML == ""
		})).Return(nil).Once()

		err := svc.Forward(ctx, email.ID, ForwardInput{Message: "FYI"}, domain.Actor{UserID: "u1"})
		require.NoError(t, err)
		env.sender.AssertExpectations(t)

		got, err := env.store.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusForwarded, got.Status)

		logs, err := env.store.ListActionLogs(ctx, email.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, domain.ActionForward, logs[0].ActionType)
		assert.Equal(t, "team@example.com", logs[0].NewValue)
	})

	t.Run("发送失败不改变状态", func(t *testing.T) {
		env := newTestEnv(t)
		email := env.seedEmail(t, "ali@acme.com", "Teklif", received)
		svc := NewEmailService(env.store, env.blobs, env.settings, nil)
		env.sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

		err := svc.Forward(ctx, email.ID, ForwardInput{To: "boss@example.com"}, domain.Actor{UserID: "u1"})
		assert.Error(t, err)

		got, err := env.store.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUnread, got.Status)
	})

	t.Run("没有收件人", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.Mail.DefaultForwardEmail = ""
		email := env.seedEmail(t, "ali@acme.com", "Teklif", received)
		svc := NewEmailService(env.store, env.blobs, env.settings, nil)

		err := svc.Forward(ctx, email.ID, ForwardInput{}, domain.Actor{UserID: "u1"})
		assert.ErrorIs(t, err, ErrRecipientRequired)
	})

	t.Run("回复发件人", func(t *testing.T) {
		env := newTestEnv(t)
		email := env.seedEmail(t, "ali@acme.com", "Teklif", received)
		svc := NewEmailService(env.store, env.blobs, env.settings, nil)

		env.sender.On("Send", mock.Anything, mock.MatchedBy(func(msg domain.OutboundMessage) bool {
			return msg.Subject == "Re: Teklif" &&
				msg.To[0] == "ali@acme.com" &&
				msg.Text == "Merhaba\nTeşekkürler" &&
				msg.HTML == "Merhaba<br>Teşekkürler"
		})).Return(nil).Once()

		err := svc.Reply(ctx, email.ID, ReplyInput{Content: "Merhaba\nTeşekkürler"}, domain.Actor{UserID: "u1"})
		require.NoError(t, err)
		env.sender.AssertExpectations(t)

		got, err := env.store.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReplied, got.Status)
	})

	t.Run("回复内容为空", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewEmailService(env.store, env.blobs, env.settings, nil)

		err := svc.Reply(ctx, "any", ReplyInput{Content: "  "}, domain.Actor{})
		assert.ErrorIs(t, err, ErrReplyContentRequired)
	})
}

func TestEmailService_Attachment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	email := env.seedEmail(t, "ali@acme.com", "Teklif", time.Now().UTC())
	svc := NewEmailService(env.store, env.blobs, env.settings, nil)

	save := func(name, mimeType string, data []byte) *domain.Attachment {
		location, err := env.blobs.Put(ctx, uuid.NewString()+"-"+name, data)
		require.NoError(t, err)
		att := &domain.Attachment{
			ID:               uuid.NewString(),
			EmailID:          email.ID,
			Filename:         location,
			OriginalFilename: name,
			FileSize:         int64(len(data)),
			MimeType:         mimeType,
			FilePath:         location,
		}
		require.NoError(t, env.store.CreateAttachment(ctx, att))
		return att
	}

	image := save("logo.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	pdf := save("teklif.pdf", "application/pdf", []byte("%PDF-1.4\n"))

	t.Run("预览图片", func(t *testing.T) {
		got, err := svc.Attachment(ctx, image.ID, true)
		require.NoError(t, err)
		assert.Equal(t, "logo.png", got.Attachment.OriginalFilename)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, got.Data)
	})

	t.Run("非图片不能预览", func(t *testing.T) {
		_, err := svc.Attachment(ctx, pdf.ID, true)
		assert.ErrorIs(t, err, ErrNotImage)
	})

	t.Run("下载任意附件", func(t *testing.T) {
		got, err := svc.Attachment(ctx, pdf.ID, false)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4\n"), got.Data)
	})

	t.Run("附件不存在", func(t *testing.T) {
		_, err := svc.Attachment(ctx, "missing", false)
		assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)
	})

	t.Run("文件丢失", func(t *testing.T) {
		require.NoError(t, env.blobs.Delete(ctx, pdf.FilePath))
		_, err := svc.Attachment(ctx, pdf.ID, false)
		assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)
	})
}
