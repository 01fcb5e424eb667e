// Package inbound 把原始 RFC 5322 邮件解析成入库流水线使用的结构。
package inbound

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"mailport/backend/internal/domain"
)

// MaxMessageSize 单封邮件允许的最大字节数
const MaxMessageSize = 25 << 20

// Parse 解析原始邮件
//
// 缺失的头部保留为空值，由入库流程决定回退策略；
// Date 头缺失或无法解析时 Date 为零值。
func Parse(r io.Reader) (*domain.InboundMessage, error) {
	env, err := enmime.ReadEnvelope(io.LimitReader(r, MaxMessageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}

	msg := &domain.InboundMessage{
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		Subject:   env.GetHeader("Subject"),
		Text:      env.Text,
		HTML:      env.HTML,
	}

	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromAddress = strings.ToLower(strings.TrimSpace(from[0].Address))
		msg.FromName = strings.TrimSpace(from[0].Name)
	} else {
		msg.FromAddress = strings.ToLower(strings.Trim(strings.TrimSpace(env.GetHeader("From")), "<>"))
	}

	if date, err := env.Date(); err == nil {
		msg.Date = date.UTC()
	}

	// 内联图片也按附件保存
	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, part := range parts {
		if len(part.Content) == 0 {
			continue
		}
		name := part.FileName
		if name == "" {
			name = "unnamed"
		}
		msg.Attachments = append(msg.Attachments, domain.InboundAttachment{
			Filename:    name,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
			Content:     part.Content,
		})
	}

	return msg, nil
}

// ParseBytes 解析内存中的原始邮件
func ParseBytes(raw []byte) (*domain.InboundMessage, error) {
	return Parse(bytes.NewReader(raw))
}

// ReceivedAt 返回邮件时间，缺失时使用 fallback
func ReceivedAt(msg *domain.InboundMessage, fallback time.Time) time.Time {
	if msg.Date.IsZero() {
		return fallback
	}
	return msg.Date
}
