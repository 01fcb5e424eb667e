package domain

import "time"

// InboundMessage 传输层解析后的邮件
type InboundMessage struct {
	Source      string // imap 或 smtp
	MessageID   string
	FromAddress string
	FromName    string
	Date        time.Time
	Subject     string
	Text        string
	HTML        string
	Attachments []InboundAttachment
}

// InboundAttachment 解析出的附件内容
type InboundAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

// OutboundMessage 待发送的邮件
type OutboundMessage struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}
