package conversation

import (
	"regexp"
	"strings"
)

// replyPrefix 匹配一个前导回复/转发标记，包含土耳其语 "ynt"/"ilet"
var replyPrefix = regexp.MustCompile(`(?i)^(re|fwd|fw|ynt|ilet):\s*`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeSubject 将主题规整为会话匹配键
//
// 只剥离一个前导标记，"Re: Re: X" 会保留第二个 "re:"。
// 结果只用于分组，不对外展示。
func NormalizeSubject(subject string) string {
	if subject == "" {
		return ""
	}
	s := replyPrefix.ReplaceAllString(subject, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}
