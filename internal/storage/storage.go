package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"mailport/backend/internal/domain"
)

var (
	// ErrEmailNotFound 邮件未找到
	ErrEmailNotFound = errors.New("email not found")
	// ErrEmailExists 相同 Message-ID 的邮件已存在
	ErrEmailExists = errors.New("email already exists")
	// ErrAttachmentNotFound 附件未找到
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrUserNotFound 用户未找到
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameExists 用户名已被占用
	ErrUsernameExists = errors.New("username already exists")
	// ErrUserEmailExists 用户邮箱已被占用
	ErrUserEmailExists = errors.New("user email already exists")
	// ErrSettingsNotFound 尚未保存过邮件配置
	ErrSettingsNotFound = errors.New("mail settings not found")
	// ErrLockHeld 分布式锁已被其他实例持有
	ErrLockHeld = errors.New("lock already held")
)

// EmailRepository 定义邮件数据存取操作。
type EmailRepository interface {
	CreateEmail(ctx context.Context, email *domain.Email) error
	// GetEmail 返回邮件及其附件
	GetEmail(ctx context.Context, id string) (*domain.Email, error)
	GetEmailByMessageID(ctx context.Context, messageID string) (*domain.Email, error)
	// FindLatestBySender 返回该发件人 dateReceived 最新的一封邮件
	FindLatestBySender(ctx context.Context, senderEmail string) (*domain.Email, error)
	// UpdateEmail 保存邮件的可变字段（发件人、公司、状态、处理人）
	UpdateEmail(ctx context.Context, email *domain.Email) error
	UpdateConversation(ctx context.Context, id string, fields domain.ConversationFields) error
	// UpdateCompanyByDomain 把同域名下未人工修改过公司名的邮件改为 company 并标记为人工，
	// 返回受影响行数
	UpdateCompanyByDomain(ctx context.Context, senderDomain, company string) (int64, error)
	ListEmails(ctx context.Context, criteria domain.EmailSearchCriteria) (*domain.EmailSearchResult, error)
	// ListUnthreaded 按 (dateReceived, id) 升序返回 after 之后 conversationId 为空的邮件
	ListUnthreaded(ctx context.Context, after *domain.EmailCursor, limit int) ([]domain.Email, error)
	// FindEarliestThreadMember 没有匹配时返回 (nil, nil)
	FindEarliestThreadMember(ctx context.Context, senders []string, threadSubject string) (*domain.Email, error)
	// ListConversationEmails 按 dateReceived 升序返回会话中的邮件及附件
	ListConversationEmails(ctx context.Context, conversationID string) ([]domain.Email, error)
	CountEmails(ctx context.Context, filter domain.EmailCountFilter) (int, error)
	CountConversations(ctx context.Context) (int, error)
	TopSenderDomains(ctx context.Context, limit int) ([]domain.NamedCount, error)
	TopCompanies(ctx context.Context, limit int) ([]domain.NamedCount, error)
	// DeleteEmailsBefore 删除 dateReceived 早于 before 的邮件（附件与日志级联删除），
	// 返回删除的邮件数和被删除的附件记录，调用方据此清理附件文件
	DeleteEmailsBefore(ctx context.Context, before time.Time) (int, []domain.Attachment, error)
}

// AttachmentRepository 定义附件元数据存取操作。
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, attachment *domain.Attachment) error
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
}

// ActionLogRepository 定义操作日志存取操作。
type ActionLogRepository interface {
	CreateActionLog(ctx context.Context, log *domain.ActionLog) error
	// ListActionLogs 按创建时间倒序返回邮件的操作日志
	ListActionLogs(ctx context.Context, emailID string) ([]domain.ActionLog, error)
	CountActions(ctx context.Context, filter domain.ActionCountFilter) (int, error)
	DailyActionCounts(ctx context.Context, since time.Time) ([]domain.DailyActionCount, error)
	TopActionIPs(ctx context.Context, limit int) ([]domain.NamedCount, error)
}

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	DeleteUser(ctx context.Context, userID string) error
	// ListUsers 按创建时间倒序返回全部用户
	ListUsers(ctx context.Context) ([]domain.User, error)
	CountUsers(ctx context.Context) (domain.UserCounts, error)
}

// SettingsRepository 定义邮件配置存取操作。
type SettingsRepository interface {
	GetMailSettings(ctx context.Context) (*domain.MailSettings, error)
	SaveMailSettings(ctx context.Context, settings *domain.MailSettings) error
}

// Store 定义完整的存储接口。
type Store interface {
	EmailRepository
	AttachmentRepository
	ActionLogRepository
	UserRepository
	SettingsRepository

	// DatabaseSize 返回数据库占用的字节数，不支持时返回 0
	DatabaseSize(ctx context.Context) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// BlobStore 附件内容存储
type BlobStore interface {
	// Put 写入内容并返回相对存储根目录的位置
	Put(ctx context.Context, name string, data []byte) (string, error)
	Open(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// Locker 跨进程互斥
type Locker interface {
	// TryLock 获取成功返回释放函数，已被占用时返回 ErrLockHeld
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// DailyCounts 把操作日志按 UTC 日期和类型聚合，结果按日期、类型升序
func DailyCounts(logs []domain.ActionLog) []domain.DailyActionCount {
	type key struct {
		date string
		typ  domain.ActionType
	}
	counts := make(map[key]int)
	for _, l := range logs {
		counts[key{l.CreatedAt.UTC().Format("2006-01-02"), l.ActionType}]++
	}

	out := make([]domain.DailyActionCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, domain.DailyActionCount{Date: k.date, ActionType: k.typ, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ActionType < out[j].ActionType
	})
	return out
}
