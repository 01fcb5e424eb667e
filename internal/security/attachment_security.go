package security

import (
	"bytes"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// maxFilenameLength 生成的存储文件名中原始名部分的最大长度
const maxFilenameLength = 100

// executableSignatures 可执行文件魔数
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O
	{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O (reverse)
}

// dangerousExtensions 下载时强制以附件方式返回的扩展名
var dangerousExtensions = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
	".scr": true,
	".pif": true,
	".com": true,
	".vbs": true,
	".js":  true,
	".jar": true,
	".php": true,
}

// SafeFilename 去掉路径和特殊字符，得到可落盘的文件名
//
// 结果只含字母、数字、点、下划线和连字符，空名返回 "attachment"。
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "attachment"
	}
	if r := []rune(name); len(r) > maxFilenameLength {
		name = string(r[len(r)-maxFilenameLength:])
	}
	return name
}

// IsImage 判断 MIME 类型是否为图片，只有图片允许内联预览
func IsImage(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}

// IsExecutable 根据扩展名或文件头判断附件是否为可执行文件
func IsExecutable(filename string, content []byte) bool {
	if dangerousExtensions[strings.ToLower(filepath.Ext(filename))] {
		return true
	}
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(content, sig) {
			return true
		}
	}
	return false
}
