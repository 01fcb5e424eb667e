package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"mailport/backend/internal/domain"
)

const idSeparator = "|"

// Info 会话归属结果，可直接 Apply 到邮件上
type Info = domain.ConversationFields

// GenerateID 由两个参与地址和规整后的主题生成会话标识
//
// 地址按字典序排序后与主题以 "|" 拼接，再取 SHA-256 十六进制摘要，
// 因此 GenerateID(a, b, s) == GenerateID(b, a, s)。
func GenerateID(addrA, addrB, normalizedSubject string) string {
	pair := []string{addrA, addrB}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(strings.Join([]string{pair[0], pair[1], normalizedSubject}, idSeparator)))
	return hex.EncodeToString(sum[:])
}

// Decide 纯函数形式的归属判断
//
// 参数:
//   - existing: 已找到的最早同会话邮件的会话标识，没有则为 nil
//   - sender: 发件人地址
//   - owner: 被监控收件箱地址
//   - subject: 原始主题
//
// 规整后主题为空时不参与归并，返回 {nil, 原始主题, true}。
func Decide(existing *string, sender, owner, subject string) Info {
	normalized := NormalizeSubject(subject)
	if normalized == "" {
		return Info{ConversationID: nil, ThreadSubject: subject, IsConversationRoot: true}
	}
	if existing != nil {
		id := *existing
		return Info{ConversationID: &id, ThreadSubject: normalized, IsConversationRoot: false}
	}
	id := GenerateID(sender, owner, normalized)
	return Info{ConversationID: &id, ThreadSubject: normalized, IsConversationRoot: true}
}
