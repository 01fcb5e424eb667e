package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// getInvalidChars 获取当前平台不允许的字符
func (p *PlatformUtils) getInvalidChars() []string {
	switch runtime.GOOS {
	case "darwin", "linux":
		return []string{"/", "\x00"}
	default:
		// 保守处理
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	}
}

// ValidatePath 验证根目录路径是否安全
func (p *PlatformUtils) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}
	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}
	return nil
}

// GetMaxFilenameLength 获取当前平台的最大文件名长度
func (p *PlatformUtils) GetMaxFilenameLength() int {
	if runtime.GOOS == "windows" {
		return 200
	}
	return 255
}

// IsCaseSensitive 检查当前文件系统是否大小写敏感
func (p *PlatformUtils) IsCaseSensitive() bool {
	return runtime.GOOS != "windows"
}

// NormalizePath 转为绝对路径并清理
func (p *PlatformUtils) NormalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	cleanPath := filepath.Clean(absPath)
	if !p.IsCaseSensitive() {
		cleanPath = strings.ToLower(cleanPath)
	}
	return cleanPath
}

// IsValidFilename 检查文件名是否有效
func (p *PlatformUtils) IsValidFilename(filename string) bool {
	if strings.Trim(filename, " .") == "" {
		return false
	}
	for _, char := range p.getInvalidChars() {
		if strings.Contains(filename, char) {
			return false
		}
	}
	if strings.Contains(filename, "\\") || strings.HasSuffix(filename, ".part") {
		return false
	}
	return len(filename) <= p.GetMaxFilenameLength()
}
