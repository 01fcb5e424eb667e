package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/service"
)

// SettingsHandler 系统设置API处理器
type SettingsHandler struct {
	settings *service.SettingsService
	stats    *service.StatsService
	log      *zap.Logger
}

// NewSettingsHandler 创建设置处理器
func NewSettingsHandler(settings *service.SettingsService, stats *service.StatsService, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: settings,
		stats:    stats,
		log:      logger,
	}
}

type cleanupRequest struct {
	OlderThanDays     int  `json:"olderThanDays" binding:"required"`
	DeleteAttachments bool `json:"deleteAttachments"`
}

// GetEmailSettings 当前邮件服务器设置，不返回密码
// @Tags 设置
// @Router /v1/settings/email [get]
func (h *SettingsHandler) GetEmailSettings(c *gin.Context) {
	settings, err := h.settings.Effective(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "get mail settings", err)
		return
	}
	Success(c, settings)
}

// UpdateEmailSettings 保存邮件服务器设置，密码留空表示不修改
// @Tags 设置
// @Router /v1/settings/email [put]
func (h *SettingsHandler) UpdateEmailSettings(c *gin.Context) {
	var req domain.MailSettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	settings, err := h.settings.Save(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, "save mail settings", err)
		return
	}
	SuccessWithMsg(c, "设置已保存", settings)
}

// SendTestEmail 发送测试邮件
// @Tags 设置
// @Router /v1/settings/test-email [post]
func (h *SettingsHandler) SendTestEmail(c *gin.Context) {
	var req service.TestEmailInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.settings.SendTestEmail(c.Request.Context(), req); err != nil {
		respondError(c, h.log, "send test email", err)
		return
	}
	SuccessWithMsg(c, "测试邮件已发送", nil)
}

// SystemInfo 运行环境信息
// @Tags 设置
// @Router /v1/settings/system [get]
func (h *SettingsHandler) SystemInfo(c *gin.Context) {
	info, err := h.settings.SystemInfo(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "system info", err)
		return
	}
	Success(c, info)
}

// Cleanup 删除指定天数之前的邮件
// @Tags 设置
// @Router /v1/settings/cleanup [post]
func (h *SettingsHandler) Cleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.settings.Cleanup(c.Request.Context(), req.OlderThanDays, req.DeleteAttachments)
	if err != nil {
		respondError(c, h.log, "cleanup", err)
		return
	}
	if h.stats != nil {
		h.stats.Invalidate()
	}
	SuccessWithMsg(c, "清理完成", result)
}
