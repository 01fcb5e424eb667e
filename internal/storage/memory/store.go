package memory

import (
	"context"
	"sync"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// Store 使用内存保存邮件、用户与操作日志，用于开发和测试。
//
// 所有读取都返回副本，调用方修改返回值不会影响存储内容。
type Store struct {
	mu sync.RWMutex

	emails      map[string]*domain.Email      // emailID -> email（不含附件）
	byMessageID map[string]string             // messageID -> emailID
	attachments map[string]*domain.Attachment // attachmentID -> attachment
	logs        []*domain.ActionLog

	users      map[string]*domain.User // userID -> user
	byEmail    map[string]string       // email -> userID
	byUsername map[string]string       // username -> userID

	settings *domain.MailSettings
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		emails:      make(map[string]*domain.Email),
		byMessageID: make(map[string]string),
		attachments: make(map[string]*domain.Attachment),
		users:       make(map[string]*domain.User),
		byEmail:     make(map[string]string),
		byUsername:  make(map[string]string),
	}
}

// DatabaseSize 内存存储不统计大小
func (s *Store) DatabaseSize(context.Context) (int64, error) {
	return 0, nil
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error {
	return nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// GetMailSettings 获取邮件配置
func (s *Store) GetMailSettings(context.Context) (*domain.MailSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, storage.ErrSettingsNotFound
	}
	cp := *s.settings
	return &cp, nil
}

// SaveMailSettings 保存邮件配置
func (s *Store) SaveMailSettings(_ context.Context, settings *domain.MailSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *settings
	cp.ID = domain.SettingsID
	s.settings = &cp
	return nil
}

var _ storage.Store = (*Store)(nil)
