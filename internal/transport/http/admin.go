package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/middleware"
	"mailport/backend/internal/service"
)

// AdminHandler 用户管理API处理器
type AdminHandler struct {
	adminService *service.AdminService
	log          *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(adminService *service.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		log:          logger,
	}
}

type createUserRequest struct {
	Username string          `json:"username" binding:"required"`
	Email    string          `json:"email" binding:"required"`
	Password string          `json:"password" binding:"required"`
	FullName string          `json:"fullName"`
	Role     domain.UserRole `json:"role"`
}

type updateUserRequest struct {
	Username *string          `json:"username"`
	Email    *string          `json:"email"`
	Password *string          `json:"password"`
	FullName *string          `json:"fullName"`
	Role     *domain.UserRole `json:"role"`
	IsActive *bool            `json:"isActive"`
}

// ListUsers 获取用户列表
// @Tags Admin
// @Router /v1/auth/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.adminService.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "list users", err)
		return
	}
	Success(c, users)
}

// CreateUser 创建用户
// @Tags Admin
// @Router /v1/auth/users [post]
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	user, err := h.adminService.CreateUser(c.Request.Context(), service.CreateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		respondError(c, h.log, "create user", err)
		return
	}

	CreatedWithMsg(c, "用户创建成功", user)
}

// UpdateUser 更新用户
// @Tags Admin
// @Router /v1/auth/users/{id} [put]
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	operator := middleware.CurrentUser(c)
	user, err := h.adminService.UpdateUser(c.Request.Context(), c.Param("id"), domain.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
		IsActive: req.IsActive,
	}, operator.ID)
	if err != nil {
		respondError(c, h.log, "update user", err)
		return
	}

	SuccessWithMsg(c, "用户更新成功", user)
}

// DeleteUser 删除用户
// @Tags Admin
// @Router /v1/auth/users/{id} [delete]
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	operator := middleware.CurrentUser(c)
	if err := h.adminService.DeleteUser(c.Request.Context(), c.Param("id"), operator.ID); err != nil {
		respondError(c, h.log, "delete user", err)
		return
	}
	SuccessWithMsg(c, "用户删除成功", nil)
}
