package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/domain"
)

// 上下文键
const (
	ContextUser   = "user"
	ContextUserID = "userID"
	ContextRole   = "role"
)

// JWTAuth JWT认证中间件
type JWTAuth struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(authService *auth.Service, logger *zap.Logger) *JWTAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTAuth{
		authService: authService,
		log:         logger,
	}
}

// RequireAuth 要求JWT认证，用户必须仍然存在且处于启用状态
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		user, err := ja.authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			abort(c, http.StatusUnauthorized, "无效的访问令牌")
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, user.Role)

		c.Next()
	}
}

// CurrentUser 返回 RequireAuth 写入上下文的用户
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}

// extractToken 从请求中提取JWT token
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code": status,
		"msg":  msg,
	})
}
