package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/auth/jwt"
	"mailport/backend/internal/config"
	"mailport/backend/internal/conversation"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/service"
	"mailport/backend/internal/storage/filesystem"
	"mailport/backend/internal/storage/memory"
)

const ownerAddress = "support@example.com"

func init() {
	gin.SetMode(gin.TestMode)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(_ context.Context, server domain.SMTPServer, msg domain.OutboundMessage) error {
	return m.Called(server, msg).Error(0)
}

type apiEnv struct {
	router http.Handler
	store  *memory.Store
	blobs  *filesystem.Store
	sender *mockSender
	tokens map[string]string
	users  map[string]*domain.User
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := memory.NewStore()
	blobs, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Database.Type = "memory"
	cfg.CORS.AllowedOrigins = []string{"*"}
	cfg.Auth.LoginRate = 100
	cfg.Auth.LoginBurst = 100
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Port = 587
	cfg.SMTP.From = "bot@example.com"
	cfg.Mail.DefaultForwardEmail = "team@example.com"

	tokens := jwt.NewManager(strings.Repeat("s", 32), "mailport", time.Hour)
	authService := auth.NewService(store, tokens, nil)
	resolver := conversation.NewResolver(store, ownerAddress)
	sender := &mockSender{}
	settings := service.NewSettingsService(store, blobs, blobs, sender, cfg, nil)
	stats := service.NewStatsService(store, nil, nil)

	router := NewRouter(RouterDependencies{
		Config:              cfg,
		AuthService:         authService,
		AdminService:        service.NewAdminService(store, nil),
		EmailService:        service.NewEmailService(store, blobs, settings, nil),
		ConversationService: service.NewConversationService(store, resolver, 50, nil),
		StatsService:        stats,
		SettingsService:     settings,
		Metrics:             monitoring.NewMetrics(nil),
	})

	env := &apiEnv{
		router: router,
		store:  store,
		blobs:  blobs,
		sender: sender,
		tokens: map[string]string{},
		users:  map[string]*domain.User{},
	}
	for username, role := range map[string]domain.UserRole{"yonetici": domain.RoleAdmin, "destek1": domain.RoleSupport} {
		hash, err := auth.HashPassword("secret123")
		require.NoError(t, err)
		user := &domain.User{
			ID:           uuid.NewString(),
			Username:     username,
			Email:        username + "@example.com",
			PasswordHash: hash,
			Role:         role,
			IsActive:     true,
		}
		require.NoError(t, store.CreateUser(context.Background(), user))
		token, err := tokens.GenerateToken(user.ID, user.Username, string(user.Role))
		require.NoError(t, err)
		env.tokens[username] = token
		env.users[username] = user
	}
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, as string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[as])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func (e *apiEnv) seedEmail(t *testing.T, sender, subject string) *domain.Email {
	t.Helper()
	email := &domain.Email{
		ID:           uuid.NewString(),
		MessageID:    "<" + uuid.NewString() + "@acme.com>",
		DateReceived: time.Now().UTC(),
		SenderEmail:  sender,
		SenderDomain: sender[strings.Index(sender, "@")+1:],
		Subject:      subject,
		Status:       domain.StatusUnread,
	}
	require.NoError(t, e.store.CreateEmail(context.Background(), email))
	return email
}

func TestAuthRoutes(t *testing.T) {
	env := newAPIEnv(t)

	t.Run("登录成功", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"username": "destek1", "password": "secret123"})
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.NotEmpty(t, data["token"])
		assert.Equal(t, "destek1", data["user"].(map[string]any)["username"])
		assert.NotContains(t, w.Body.String(), "passwordHash")
	})

	t.Run("密码错误", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"username": "destek1", "password": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, MsgInvalidCredentials, resp.Msg)
	})

	t.Run("未登录访问受保护接口", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/emails", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("个人资料", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/auth/profile", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "destek1", resp.Data.(map[string]any)["username"])
	})

	t.Run("修改密码时当前密码错误", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPut, "/v1/auth/change-password", "destek1",
			gin.H{"currentPassword": "nope", "newPassword": "newsecret"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUserRoutes(t *testing.T) {
	env := newAPIEnv(t)

	t.Run("客服无权管理用户", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/auth/users", "destek1", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("创建用户与重名冲突", func(t *testing.T) {
		body := gin.H{"username": "destek2", "email": "destek2@example.com", "password": "secret123"}
		w, _ := env.do(t, http.MethodPost, "/v1/auth/users", "yonetici", body)
		assert.Equal(t, http.StatusCreated, w.Code)

		w, _ = env.do(t, http.MethodPost, "/v1/auth/users", "yonetici", body)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("不能删除自己", func(t *testing.T) {
		w, _ := env.do(t, http.MethodDelete, "/v1/auth/users/"+env.users["yonetici"].ID, "yonetici", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEmailRoutes(t *testing.T) {
	env := newAPIEnv(t)
	email := env.seedEmail(t, "ali@acme.com", "Teklif")
	env.seedEmail(t, "veli@acme.com", "Sipariş")

	t.Run("列表与搜索", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/emails?search=teklif", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(1), data["total"])
	})

	t.Run("查看详情标记已读", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/emails/"+email.ID, "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, string(domain.StatusRead), resp.Data.(map[string]any)["status"])

		w, resp = env.do(t, http.MethodGet, "/v1/emails/"+email.ID+"/history", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, resp.Data, 1)
	})

	t.Run("邮件不存在", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/emails/"+uuid.NewString(), "destek1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, MsgEmailNotFound, resp.Msg)
	})

	t.Run("批量修改公司名称", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPut, "/v1/emails/"+email.ID, "destek1",
			gin.H{"companyName": "Acme Lojistik", "updateAll": true})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(2), resp.Data.(map[string]any)["affectedCount"])
	})

	t.Run("转发到默认地址", func(t *testing.T) {
		env.sender.On("Send", mock.Anything, mock.MatchedBy(func(msg domain.OutboundMessage) bool {
			return len(msg.To) == 1 && msg.To[0] == "team@example.com"
		})).Return(nil).Once()

		w, _ := env.do(t, http.MethodPost, "/v1/emails/"+email.ID+"/forward", "destek1", gin.H{})
		assert.Equal(t, http.StatusOK, w.Code)
		env.sender.AssertExpectations(t)
	})

	t.Run("回复内容为空", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPost, "/v1/emails/"+email.ID+"/reply", "destek1", gin.H{"content": ""})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("邮件状态统计", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/emails/stats", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(2), resp.Data.(map[string]any)["total"])
	})
}

func TestAttachmentRoutes(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	email := env.seedEmail(t, "ali@acme.com", "Fotoğraf")

	save := func(name, mimeType string, data []byte) *domain.Attachment {
		location, err := env.blobs.Put(ctx, email.ID+"-"+name, data)
		require.NoError(t, err)
		att := &domain.Attachment{
			ID:               uuid.NewString(),
			EmailID:          email.ID,
			Filename:         email.ID + "-" + name,
			OriginalFilename: name,
			FileSize:         int64(len(data)),
			MimeType:         mimeType,
			FilePath:         location,
		}
		require.NoError(t, env.store.CreateAttachment(ctx, att))
		return att
	}
	image := save("foto.png", "image/png", []byte("\x89PNG\r\n"))
	pdf := save("teklif.pdf", "application/pdf", []byte("%PDF-1.4"))

	t.Run("图片内联预览", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/emails/attachments/"+image.ID+"/view", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "inline"))
	})

	t.Run("非图片不能预览", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/emails/attachments/"+pdf.ID+"/view", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("下载需要登录", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/emails/attachments/"+pdf.ID+"/download", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w, _ = env.do(t, http.MethodGet, "/v1/emails/attachments/"+pdf.ID+"/download", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "%PDF-1.4", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Disposition"), "teklif.pdf")
	})
}

func TestConversationAndStatsRoutes(t *testing.T) {
	env := newAPIEnv(t)
	env.seedEmail(t, "ali@acme.com", "Order 42")
	env.seedEmail(t, "ali@acme.com", "Re: Order 42")

	t.Run("整理会话需要管理员", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPost, "/v1/conversations/organize", "destek1", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w, resp := env.do(t, http.MethodPost, "/v1/conversations/organize", "yonetici", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, float64(2), data["organizedCount"])
		assert.Equal(t, float64(1), data["conversationCount"])
	})

	t.Run("会话统计", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/conversations/stats", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), resp.Data.(map[string]any)["conversations"])
	})

	t.Run("未知会话返回空列表", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/conversations/unknown", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, resp.Data)
	})

	t.Run("仪表盘与别名", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/stats/dashboard", "destek1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w, _ = env.do(t, http.MethodGet, "/v1/stats/emails", "destek1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("系统统计需要管理员", func(t *testing.T) {
		w, _ := env.do(t, http.MethodGet, "/v1/stats/system", "destek1", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		w, _ = env.do(t, http.MethodGet, "/v1/stats/system", "yonetici", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSettingsRoutes(t *testing.T) {
	env := newAPIEnv(t)

	t.Run("读取设置不返回密码", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/settings/email", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "smtp.example.com", resp.Data.(map[string]any)["smtpHost"])
		assert.NotContains(t, w.Body.String(), "smtpPassword")
	})

	t.Run("保存设置需要管理员", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPut, "/v1/settings/email", "destek1", gin.H{"smtpHost": "mail.acme.com"})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w, resp := env.do(t, http.MethodPut, "/v1/settings/email", "yonetici", gin.H{"smtpHost": "mail.acme.com", "smtpPort": 465})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "mail.acme.com", resp.Data.(map[string]any)["smtpHost"])
	})

	t.Run("端口非法", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPut, "/v1/settings/email", "yonetici", gin.H{"smtpPort": 70000})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("清理天数超出范围", func(t *testing.T) {
		w, _ := env.do(t, http.MethodPost, "/v1/settings/cleanup", "yonetici", gin.H{"olderThanDays": 400})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("清理旧邮件", func(t *testing.T) {
		w, resp := env.do(t, http.MethodPost, "/v1/settings/cleanup", "yonetici", gin.H{"olderThanDays": 30})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(0), resp.Data.(map[string]any)["deletedEmails"])
	})

	t.Run("系统信息", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/v1/settings/system", "destek1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "memory", resp.Data.(map[string]any)["database"].(map[string]any)["type"])
	})
}

func TestHealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t)

	w, _ := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
