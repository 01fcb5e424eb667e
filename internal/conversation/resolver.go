package conversation

import (
	"context"
	"fmt"
	"strings"

	"mailport/backend/internal/domain"
)

// Lookup 会话查询所需的存储能力
type Lookup interface {
	// FindEarliestThreadMember 在发件人属于 senders、threadSubject 等于
	// normalizedSubject 且 conversationId 非空的邮件中返回 dateReceived 最早的一封，
	// 没有匹配时返回 (nil, nil)。
	FindEarliestThreadMember(ctx context.Context, senders []string, normalizedSubject string) (*domain.Email, error)
}

// Resolver 会话归属解析器
type Resolver struct {
	lookup Lookup
	owner  string
}

// NewResolver 创建解析器，owner 为被监控收件箱地址
func NewResolver(lookup Lookup, ownerAddress string) *Resolver {
	return &Resolver{
		lookup: lookup,
		owner:  strings.ToLower(strings.TrimSpace(ownerAddress)),
	}
}

// Owner 返回收件箱地址
func (r *Resolver) Owner() string {
	return r.owner
}

// Detect 判断邮件属于已有会话还是新会话
//
// 查询失败时原样向上返回，不做重试。
func (r *Resolver) Detect(ctx context.Context, senderEmail, subject string) (Info, error) {
	normalized := NormalizeSubject(subject)
	if normalized == "" {
		return Decide(nil, senderEmail, r.owner, subject), nil
	}

	match, err := r.lookup.FindEarliestThreadMember(ctx, []string{senderEmail, r.owner}, normalized)
	if err != nil {
		return Info{}, fmt.Errorf("find thread member: %w", err)
	}

	var existing *string
	if match != nil && match.ConversationID != nil {
		existing = match.ConversationID
	}
	return Decide(existing, senderEmail, r.owner, subject), nil
}
