package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/middleware"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewAuthHandler 创建新的认证处理器实例
func NewAuthHandler(authService *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         logger,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"` // 用户名或邮箱
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// Login 处理登录请求
// @Summary 用户登录
// @Tags 认证
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请输入用户名和密码")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), auth.LoginInput{
		Identifier: req.Username,
		Password:   req.Password,
	})
	if err != nil {
		respondError(c, h.log, "login", err)
		return
	}

	SuccessWithMsg(c, "登录成功", result)
}

// Profile 当前用户资料
func (h *AuthHandler) Profile(c *gin.Context) {
	Success(c, middleware.CurrentUser(c))
}

// ChangePassword 修改密码
// @Summary 修改密码
// @Tags 认证
// @Router /v1/auth/change-password [put]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user := middleware.CurrentUser(c)
	if err := h.authService.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, h.log, "change password", err)
		return
	}

	SuccessWithMsg(c, "密码修改成功", nil)
}
