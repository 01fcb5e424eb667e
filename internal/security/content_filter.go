package security

import (
	"regexp"
)

// ContentFilter 清理邮件 HTML 中的可执行内容
type ContentFilter struct {
	patterns []*regexp.Regexp
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	return &ContentFilter{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
			regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`),
			// 未闭合的标签也要去掉
			regexp.MustCompile(`(?i)<(script|iframe)\b[^>]*>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)\bon\w+\s*=`),
		},
	}
}

// Sanitize 移除 script/iframe 块、javascript: 链接和内联事件处理器
func (cf *ContentFilter) Sanitize(content string) string {
	if content == "" {
		return ""
	}
	for _, p := range cf.patterns {
		content = p.ReplaceAllString(content, "")
	}
	return content
}

var defaultFilter = NewContentFilter()

// SanitizeContent 使用默认过滤器清理 HTML
func SanitizeContent(content string) string {
	return defaultFilter.Sanitize(content)
}
