package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/config"
	"mailport/backend/internal/conversation"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/mailparse"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/storage"
	"mailport/backend/internal/storage/filesystem"
	"mailport/backend/internal/storage/memory"
)

const ownerAddress = "support@example.com"

// MockSender 模拟外发邮件
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, server domain.SMTPServer, msg domain.OutboundMessage) error {
	args := m.Called(server, msg)
	return args.Error(0)
}

type testEnv struct {
	store    *memory.Store
	blobs    *filesystem.Store
	resolver *conversation.Resolver
	sender   *MockSender
	cfg      *config.Config
	settings *SettingsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	blobs, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	store := memory.NewStore()
	cfg := &config.Config{}
	cfg.Database.Type = "memory"
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Port = 587
	cfg.SMTP.User = "bot@example.com"
	cfg.SMTP.From = "bot@example.com"
	cfg.Mail.DefaultForwardEmail = "team@example.com"

	sender := &MockSender{}
	return &testEnv{
		store:    store,
		blobs:    blobs,
		resolver: conversation.NewResolver(store, ownerAddress),
		sender:   sender,
		cfg:      cfg,
		settings: NewSettingsService(store, blobs, blobs, sender, cfg, nil),
	}
}

// seedEmail 直接写入一封未归并的邮件
func (e *testEnv) seedEmail(t *testing.T, sender, subject string, at time.Time) *domain.Email {
	t.Helper()
	email := &domain.Email{
		ID:           uuid.NewString(),
		MessageID:    "<" + uuid.NewString() + "@example.com>",
		DateReceived: at,
		SenderEmail:  sender,
		SenderDomain: mailparse.SenderDomain(sender),
		Subject:      subject,
		Status:       domain.StatusUnread,
	}
	require.NoError(t, e.store.CreateEmail(context.Background(), email))
	return email
}

func (e *testEnv) seedUser(t *testing.T, username string, role domain.UserRole) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword("secret123")
	require.NoError(t, err)
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		FullName:     "Test " + username,
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return user
}

func counterValue(t *testing.T, m *monitoring.Metrics, source, result string) float64 {
	t.Helper()
	return testutil.ToFloat64(m.EmailsIngested.WithLabelValues(source, result))
}

var errInjected = errors.New("injected failure")

// failingBlobStore 对文件名以 failOn 结尾的附件返回写入错误
type failingBlobStore struct {
	storage.BlobStore
	failOn string
}

func (f *failingBlobStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if strings.HasSuffix(name, f.failOn) {
		return "", errInjected
	}
	return f.BlobStore.Put(ctx, name, data)
}

// flakyStore 在指定邮件上注入会话写入或查询失败，每个 key 只失败 remaining 次
type flakyStore struct {
	*memory.Store

	mu         sync.Mutex
	failUpdate map[string]int // 邮件 ID
	failLookup map[string]int // 规整后主题
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		Store:      memory.NewStore(),
		failUpdate: make(map[string]int),
		failLookup: make(map[string]int),
	}
}

func (f *flakyStore) take(m map[string]int, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m[key] > 0 {
		m[key]--
		return true
	}
	return false
}

func (f *flakyStore) UpdateConversation(ctx context.Context, id string, fields domain.ConversationFields) error {
	if f.take(f.failUpdate, id) {
		return errInjected
	}
	return f.Store.UpdateConversation(ctx, id, fields)
}

func (f *flakyStore) FindEarliestThreadMember(ctx context.Context, senders []string, subject string) (*domain.Email, error) {
	if f.take(f.failLookup, subject) {
		return nil, errInjected
	}
	return f.Store.FindEarliestThreadMember(ctx, senders, subject)
}
