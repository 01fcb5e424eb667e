package inbound

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/domain"
)

const plainMessage = "Message-ID: <abc123@example.com>\r\n" +
	"Date: Mon, 04 Mar 2024 10:30:00 +0300\r\n" +
	"From: \"Ayse Yilmaz\" <Ayse.Yilmaz@Acme.com.tr>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: =?UTF-8?B?UmU6IFNpcGFyacWfIGR1cnVtdQ==?=\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Merhaba,\r\nsiparis nerede?\r\n"

const multipartMessage = "Message-ID: <multi@example.com>\r\n" +
	"From: bob@example.org\r\n" +
	"Subject: Invoice\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: multipart/alternative; boundary=ALT\r\n" +
	"\r\n" +
	"--ALT\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--ALT\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>See attached.</p>\r\n" +
	"--ALT--\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf; name=\"invoice.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--XYZ--\r\n"

func TestParse(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		msg, err := Parse(strings.NewReader(plainMessage))

		require.NoError(t, err)
		assert.Equal(t, "<abc123@example.com>", msg.MessageID)
		assert.Equal(t, "ayse.yilmaz@acme.com.tr", msg.FromAddress)
		assert.Equal(t, "Ayse Yilmaz", msg.FromName)
		assert.Equal(t, "Re: Sipariş durumu", msg.Subject)
		assert.Contains(t, msg.Text, "siparis nerede?")
		assert.Equal(t, time.Date(2024, 3, 4, 7, 30, 0, 0, time.UTC), msg.Date)
		assert.Empty(t, msg.Attachments)
	})

	t.Run("多部分邮件带附件", func(t *testing.T) {
		msg, err := ParseBytes([]byte(multipartMessage))

		require.NoError(t, err)
		assert.Equal(t, "bob@example.org", msg.FromAddress)
		assert.Empty(t, msg.FromName)
		assert.Contains(t, msg.Text, "See attached.")
		assert.Contains(t, msg.HTML, "<p>See attached.</p>")
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "invoice.pdf", msg.Attachments[0].Filename)
		assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
		assert.Equal(t, "%PDF-1.4\n", string(msg.Attachments[0].Content))
		assert.Equal(t, int64(9), msg.Attachments[0].Size)
	})

	t.Run("缺少头部时保留空值", func(t *testing.T) {
		msg, err := Parse(strings.NewReader("Content-Type: text/plain\r\n\r\nhello\r\n"))

		require.NoError(t, err)
		assert.Empty(t, msg.MessageID)
		assert.Empty(t, msg.FromAddress)
		assert.Empty(t, msg.Subject)
		assert.True(t, msg.Date.IsZero())

		fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, fallback, ReceivedAt(msg, fallback))
	})
}

func TestReceivedAt(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &domain.InboundMessage{Date: date}

	assert.Equal(t, date, ReceivedAt(msg, time.Now()))
}
