package mailparse

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// freeMailDomains 个人邮箱服务商，这些域名不代表公司
var freeMailDomains = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"hotmail.com": true,
	"outlook.com": true,
	"icloud.com":  true,
}

// corporateSuffixes 作为倒数第二段出现时不能当公司名
var corporateSuffixes = map[string]bool{
	"ltd":  true,
	"inc":  true,
	"corp": true,
	"co":   true,
	"com":  true,
	"org":  true,
}

var (
	displayNameForm = regexp.MustCompile(`^(.+?)\s*<.*@.*>$`)
	nameNoise       = regexp.MustCompile(`[<>"\[\]]`)
	localPartSeps   = regexp.MustCompile(`[._-]`)
)

// ExtractCompanyName 从发件地址推断公司名
//
// 个人邮箱返回 displayName；否则取域名倒数第二段并首字母大写，
// 若该段是 co/com/ltd 等通用后缀且存在倒数第三段，则改用倒数第三段。
func ExtractCompanyName(email, displayName string) string {
	if email == "" {
		return ""
	}

	at := strings.Index(email, "@")
	if at < 0 {
		return ""
	}
	host := email[at+1:]
	if end := strings.Index(host, "@"); end >= 0 {
		host = host[:end]
	}
	if host == "" {
		return ""
	}

	if freeMailDomains[strings.ToLower(host)] {
		return displayName
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}

	candidate := labels[len(labels)-2]
	if corporateSuffixes[strings.ToLower(candidate)] && len(labels) >= 3 {
		candidate = labels[len(labels)-3]
	}
	return upperFirst(candidate)
}

// ExtractSenderName 将原始显示名或地址整理成可读的人名
//
// "Jane Doe <jane@x.com>" 取显示名部分；纯地址取本地部分并把 . _ - 换成空格。
// 最后每个单词首字母大写、其余小写。
func ExtractSenderName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ""
	}

	if m := displayNameForm.FindStringSubmatch(name); m != nil {
		name = nameNoise.ReplaceAllString(m[1], "")
	} else {
		name = nameNoise.ReplaceAllString(name, "")
		if at := strings.Index(name, "@"); at >= 0 {
			name = localPartSeps.ReplaceAllString(name[:at], " ")
		}
	}

	words := strings.Fields(name)
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

// SenderDomain 返回地址中小写的域名部分，没有域名时返回空串
func SenderDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func titleWord(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
