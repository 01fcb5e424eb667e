package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/auth/jwt"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type authFixture struct {
	store   *memory.Store
	tokens  *jwt.Manager
	service *auth.Service
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	store := memory.NewStore()
	tokens := jwt.NewManager(strings.Repeat("k", 32), "mailport", time.Hour)
	return &authFixture{
		store:   store,
		tokens:  tokens,
		service: auth.NewService(store, tokens, nil),
	}
}

func (f *authFixture) user(t *testing.T, username string, role domain.UserRole, active bool) (*domain.User, string) {
	t.Helper()
	user := &domain.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
		IsActive: active,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	token, err := f.tokens.GenerateToken(user.ID, user.Username, string(user.Role))
	require.NoError(t, err)
	return user, token
}

func perform(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	f := newAuthFixture(t)
	jwtAuth := NewJWTAuth(f.service, nil)

	r := gin.New()
	r.GET("/me", jwtAuth.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).Username)
	})
	r.GET("/admin", jwtAuth.RequireAuth(), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	_, supportToken := f.user(t, "destek1", domain.RoleSupport, true)
	_, adminToken := f.user(t, "yonetici", domain.RoleAdmin, true)
	_, inactiveToken := f.user(t, "eski", domain.RoleSupport, false)

	t.Run("有效令牌", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", supportToken)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "destek1", w.Body.String())
	})

	t.Run("缺少令牌", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"code":401`)
	})

	t.Run("无效令牌", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("已禁用用户", func(t *testing.T) {
		w := perform(r, http.MethodGet, "/me", inactiveToken)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("管理员接口", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, perform(r, http.MethodGet, "/admin", supportToken).Code)
		assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/admin", adminToken).Code)
	})
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 2)
	metrics := monitoring.NewMetrics(nil)
	limiter.SetMetrics(metrics)

	r := gin.New()
	r.POST("/login", limiter.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/login", "").Code)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodPost, "/login", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, perform(r, http.MethodPost, "/login", "").Code)

	assert.True(t, limiter.Allow("10.0.0.9"), "其他 IP 有独立配额")
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimit(8), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPanicRecovery(t *testing.T) {
	metrics := monitoring.NewMetrics(nil)
	mm := NewMonitoringMiddleware(metrics, nil)

	r := gin.New()
	r.Use(mm.PanicRecovery(), mm.HTTPMetrics(), SecurityHeaders())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := perform(r, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
