package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/monitoring"
)

func TestIngestService_ProcessEmail(t *testing.T) {
	ctx := context.Background()
	received := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("入库邮件和附件", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingDeferred, nil)

		email, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			Source:      "imap",
			MessageID:   " <m1@acme.com.tr> ",
			FromAddress: "Ali.Veli@Acme.com.tr",
			Date:        received,
			Subject:     "Teklif",
			Text:        "merhaba",
			Attachments: []domain.InboundAttachment{
				{Filename: "teklif.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4\n")},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, "<m1@acme.com.tr>", email.MessageID)
		assert.Equal(t, "ali.veli@acme.com.tr", email.SenderEmail)
		assert.Equal(t, "acme.com.tr", email.SenderDomain)
		assert.Equal(t, "Ali Veli", email.SenderName)
		assert.Equal(t, "Acme", email.CompanyName)
		assert.Equal(t, domain.StatusUnread, email.Status)
		assert.Equal(t, received, email.DateReceived)
		assert.True(t, email.HasAttachments)
		assert.Nil(t, email.ConversationID, "延迟模式不在入库时归并")

		require.Len(t, email.Attachments, 1)
		att := email.Attachments[0]
		assert.Equal(t, "teklif.pdf", att.OriginalFilename)
		assert.Equal(t, int64(9), att.FileSize)
		assert.Contains(t, att.Filename, "-teklif.pdf")

		data, err := env.blobs.Open(ctx, att.FilePath)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4\n"), data)
	})

	t.Run("重复Message-ID返回已有邮件", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingDeferred, nil)
		msg := domain.InboundMessage{MessageID: "<dup@x.com>", FromAddress: "a@acme.com", Subject: "Hi"}

		first, err := svc.ProcessEmail(ctx, msg)
		require.NoError(t, err)
		second, err := svc.ProcessEmail(ctx, msg)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		total, err := env.store.CountEmails(ctx, domain.EmailCountFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("沿用同一发件人的公司名", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingDeferred, nil)

		first, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			MessageID: "<1@x>", FromAddress: "ali@acme.com", Subject: "A", Date: received,
		})
		require.NoError(t, err)

		first.CompanyName = "Acme Lojistik"
		first.IsCompanyNameManual = true
		require.NoError(t, env.store.UpdateEmail(ctx, first))

		second, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			MessageID: "<2@x>", FromAddress: "ali@acme.com", Subject: "B", Date: received.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, "Acme Lojistik", second.CompanyName)
		assert.False(t, second.IsCompanyNameManual)
	})

	t.Run("缺少Message-ID时生成", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingDeferred, nil)

		email, err := svc.ProcessEmail(ctx, domain.InboundMessage{})
		require.NoError(t, err)
		assert.NotEmpty(t, email.MessageID)
		assert.Empty(t, email.SenderEmail)
		assert.Equal(t, domain.StatusUnread, email.Status)
		assert.False(t, email.DateReceived.IsZero())
	})

	t.Run("同步模式入库时归并", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingInline, nil)

		root, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			MessageID: "<1@x>", FromAddress: "ali@acme.com", Subject: "Order 42", Date: received,
		})
		require.NoError(t, err)
		reply, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			MessageID: "<2@x>", FromAddress: "ali@acme.com", Subject: "RE: Order 42", Date: received.Add(time.Hour),
		})
		require.NoError(t, err)

		require.NotNil(t, root.ConversationID)
		assert.True(t, root.IsConversationRoot)
		require.NotNil(t, reply.ConversationID)
		assert.Equal(t, *root.ConversationID, *reply.ConversationID)
		assert.False(t, reply.IsConversationRoot)
	})

	t.Run("对方回复加入收件箱发起的会话", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingInline, nil)

		outgoing, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			MessageID: "<o1@x>", FromAddress: ownerAddress, Subject: "Teklif", Date: received,
		})
		require.NoError(t, err)
		answer, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			MessageID: "<o2@x>", FromAddress: "veli@globex.com", Subject: "Ynt: Teklif", Date: received.Add(time.Hour),
		})
		require.NoError(t, err)

		require.NotNil(t, outgoing.ConversationID)
		require.NotNil(t, answer.ConversationID)
		assert.Equal(t, *outgoing.ConversationID, *answer.ConversationID)
		assert.False(t, answer.IsConversationRoot)
	})

	t.Run("空主题邮件自成根且不归并", func(t *testing.T) {
		for _, mode := range []string{config.ThreadingDeferred, config.ThreadingInline} {
			env := newTestEnv(t)
			svc := NewIngestService(env.store, env.blobs, env.resolver, mode, nil)

			email, err := svc.ProcessEmail(ctx, domain.InboundMessage{
				MessageID: "<blank-" + mode + "@x>", FromAddress: "ali@acme.com", Subject: "   ", Date: received,
			})
			require.NoError(t, err)
			assert.Nil(t, email.ConversationID, mode)
			assert.True(t, email.IsConversationRoot, mode)

			stored, err := env.store.GetEmail(ctx, email.ID)
			require.NoError(t, err)
			assert.True(t, stored.IsConversationRoot, mode)
		}
	})

	t.Run("附件保存失败不影响邮件和其他附件", func(t *testing.T) {
		env := newTestEnv(t)
		blobs := &failingBlobStore{BlobStore: env.blobs, failOn: "bozuk.pdf"}
		svc := NewIngestService(env.store, blobs, env.resolver, config.ThreadingDeferred, nil)

		email, err := svc.ProcessEmail(ctx, domain.InboundMessage{
			MessageID:   "<att@x>",
			FromAddress: "ali@acme.com",
			Subject:     "Belgeler",
			Attachments: []domain.InboundAttachment{
				{Filename: "bozuk.pdf", ContentType: "application/pdf", Content: []byte("x")},
				{Filename: "fatura.pdf", ContentType: "application/pdf", Content: []byte("%PDF")},
			},
		})
		require.NoError(t, err)
		require.Len(t, email.Attachments, 1)
		assert.Equal(t, "fatura.pdf", email.Attachments[0].OriginalFilename)
		assert.True(t, email.HasAttachments)

		stored, err := env.store.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		require.Len(t, stored.Attachments, 1)
		assert.Equal(t, "fatura.pdf", stored.Attachments[0].OriginalFilename)
	})

	t.Run("并发入库只产生一个根邮件", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingInline, nil)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.ProcessEmail(ctx, domain.InboundMessage{
					MessageID:   fmt.Sprintf("<%d@x>", i),
					FromAddress: "ali@acme.com",
					Subject:     "Re: Order 42",
					Date:        received.Add(time.Duration(i) * time.Minute),
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		threaded := true
		roots, err := env.store.CountEmails(ctx, domain.EmailCountFilter{Threaded: &threaded, RootsOnly: true})
		require.NoError(t, err)
		assert.Equal(t, 1, roots)
	})

	t.Run("记录入库指标", func(t *testing.T) {
		env := newTestEnv(t)
		metrics := monitoring.NewMetrics(nil)
		svc := NewIngestService(env.store, env.blobs, env.resolver, config.ThreadingDeferred, nil)
		svc.SetMetrics(metrics)

		msg := domain.InboundMessage{Source: "smtp", MessageID: "<m@x>", FromAddress: "a@acme.com"}
		_, err := svc.ProcessEmail(ctx, msg)
		require.NoError(t, err)
		_, err = svc.ProcessEmail(ctx, msg)
		require.NoError(t, err)

		assert.Equal(t, 1.0, counterValue(t, metrics, "smtp", monitoring.IngestStored))
		assert.Equal(t, 1.0, counterValue(t, metrics, "smtp", monitoring.IngestDuplicate))
	})
}

func TestThreadLockKey(t *testing.T) {
	t.Run("收件箱与对方同主题共用一把锁", func(t *testing.T) {
		assert.Equal(t, threadLockKey("<a@x>", "Order 42"), threadLockKey("<b@x>", "Re: order  42"))
	})
	t.Run("空主题按Message-ID加锁", func(t *testing.T) {
		assert.NotEqual(t, threadLockKey("<a@x>", ""), threadLockKey("<b@x>", "  "))
	})
}

func TestKeyedMutex(t *testing.T) {
	locks := newKeyedMutex()

	unlock := locks.Lock("a")
	acquired := make(chan struct{})
	go func() {
		release := locks.Lock("a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("同一个 key 不应同时获得锁")
	case <-time.After(50 * time.Millisecond):
	}

	// 不同 key 互不影响
	other := locks.Lock("b")
	other()

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, 10*time.Millisecond)
}
