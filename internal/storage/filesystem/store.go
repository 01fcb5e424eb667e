package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mailport/backend/internal/storage"
)

// ErrBlobNotFound 附件文件不存在
var ErrBlobNotFound = errors.New("blob not found")

// Store 把附件内容平铺保存在根目录下，location 即文件名
type Store struct {
	basePath      string         // 附件存储根目录
	platformUtils *PlatformUtils // 平台兼容性工具
}

// Usage 附件目录占用情况
type Usage struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)

	if err := os.MkdirAll(normalizedPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{
		basePath:      normalizedPath,
		platformUtils: platformUtils,
	}, nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Put 写入附件内容，name 必须是已清理过的文件名
func (s *Store) Put(_ context.Context, name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	// 先写临时文件再改名，避免读到半个文件
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move attachment: %w", err)
	}

	return filepath.Base(path), nil
}

// Open 读取附件内容
func (s *Store) Open(_ context.Context, location string) ([]byte, error) {
	path, err := s.resolve(location)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return content, nil
}

// Delete 删除附件文件，文件不存在时返回 ErrBlobNotFound
func (s *Store) Delete(_ context.Context, location string) error {
	path, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

// Usage 统计根目录下的文件数和总大小
func (s *Store) Usage() (Usage, error) {
	var u Usage
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return u, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // 统计期间被删除
		}
		u.Files++
		u.Bytes += info.Size()
	}
	return u, nil
}

// resolve 把 location 映射到根目录下的绝对路径，拒绝越界访问
func (s *Store) resolve(location string) (string, error) {
	if !s.platformUtils.IsValidFilename(location) || location != filepath.Base(location) {
		return "", fmt.Errorf("invalid attachment location %q", location)
	}
	return filepath.Join(s.basePath, location), nil
}

var _ storage.BlobStore = (*Store)(nil)
