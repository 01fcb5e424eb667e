package httptransport

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/domain"
	"mailport/backend/internal/middleware"
	"mailport/backend/internal/service"
)

// EmailHandler 邮件API处理器
type EmailHandler struct {
	emails *service.EmailService
	stats  *service.StatsService
	log    *zap.Logger
}

// NewEmailHandler 创建邮件处理器
func NewEmailHandler(emails *service.EmailService, stats *service.StatsService, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{
		emails: emails,
		stats:  stats,
		log:    logger,
	}
}

type updateEmailRequest struct {
	SenderName  *string `json:"senderName"`
	CompanyName *string `json:"companyName"`
	UpdateAll   bool    `json:"updateAll"`
}

// actor 从请求中提取操作人信息
func actor(c *gin.Context) domain.Actor {
	var userID string
	if user := middleware.CurrentUser(c); user != nil {
		userID = user.ID
	}
	return service.ParseActor(userID, c.ClientIP(), c.Request.UserAgent())
}

// List 邮件列表
// @Tags 邮件
// @Router /v1/emails [get]
func (h *EmailHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	conversationMode, _ := strconv.ParseBool(c.DefaultQuery("conversationMode", "false"))

	result, err := h.emails.List(c.Request.Context(), domain.EmailSearchCriteria{
		Search:           c.Query("search"),
		Status:           domain.EmailStatus(c.Query("status")),
		SortBy:           c.Query("sortBy"),
		SortOrder:        c.Query("sortOrder"),
		ConversationMode: conversationMode,
		Page:             page,
		PageSize:         limit,
	})
	if err != nil {
		respondError(c, h.log, "list emails", err)
		return
	}
	Success(c, result)
}

// Stats 邮件状态统计
// @Tags 邮件
// @Router /v1/emails/stats [get]
func (h *EmailHandler) Stats(c *gin.Context) {
	stats, err := h.stats.EmailStatus(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "email stats", err)
		return
	}
	Success(c, stats)
}

// Get 邮件详情，未读邮件会被标记为已读
// @Tags 邮件
// @Router /v1/emails/{id} [get]
func (h *EmailHandler) Get(c *gin.Context) {
	email, err := h.emails.Get(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		respondError(c, h.log, "get email", err)
		return
	}
	Success(c, email)
}

// History 邮件操作记录
// @Tags 邮件
// @Router /v1/emails/{id}/history [get]
func (h *EmailHandler) History(c *gin.Context) {
	logs, err := h.emails.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, "email history", err)
		return
	}
	Success(c, logs)
}

// Update 修改发件人名称或公司名称
// @Tags 邮件
// @Router /v1/emails/{id} [put]
func (h *EmailHandler) Update(c *gin.Context) {
	var req updateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	email, affected, err := h.emails.Update(c.Request.Context(), c.Param("id"), domain.EmailUpdate{
		SenderName:  req.SenderName,
		CompanyName: req.CompanyName,
		UpdateAll:   req.UpdateAll,
	}, actor(c))
	if err != nil {
		respondError(c, h.log, "update email", err)
		return
	}

	msg := "邮件信息已更新"
	if req.UpdateAll && affected > 0 {
		msg = fmt.Sprintf("已更新 %d 封同域名邮件", affected)
	}
	SuccessWithMsg(c, msg, gin.H{
		"email":         email,
		"affectedCount": affected,
	})
}

// Forward 转发邮件
// @Tags 邮件
// @Router /v1/emails/{id}/forward [post]
func (h *EmailHandler) Forward(c *gin.Context) {
	var req service.ForwardInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.emails.Forward(c.Request.Context(), c.Param("id"), req, actor(c)); err != nil {
		respondError(c, h.log, "forward email", err)
		return
	}
	SuccessWithMsg(c, "邮件转发成功", nil)
}

// Reply 回复邮件
// @Tags 邮件
// @Router /v1/emails/{id}/reply [post]
func (h *EmailHandler) Reply(c *gin.Context) {
	var req service.ReplyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.emails.Reply(c.Request.Context(), c.Param("id"), req, actor(c)); err != nil {
		respondError(c, h.log, "reply email", err)
		return
	}
	SuccessWithMsg(c, "回复发送成功", nil)
}

// ViewAttachment 内联预览图片附件
// @Tags 附件
// @Router /v1/emails/attachments/{attachmentId}/view [get]
func (h *EmailHandler) ViewAttachment(c *gin.Context) {
	h.serveAttachment(c, true)
}

// DownloadAttachment 下载附件
// @Tags 附件
// @Router /v1/emails/attachments/{attachmentId}/download [get]
func (h *EmailHandler) DownloadAttachment(c *gin.Context) {
	h.serveAttachment(c, false)
}

func (h *EmailHandler) serveAttachment(c *gin.Context, inline bool) {
	content, err := h.emails.Attachment(c.Request.Context(), c.Param("attachmentId"), inline)
	if err != nil {
		respondError(c, h.log, "read attachment", err)
		return
	}

	disposition := "attachment"
	if inline {
		disposition = "inline"
		c.Header("Cache-Control", "private, max-age=3600")
	}
	name := content.Attachment.OriginalFilename
	c.Header("Content-Disposition", fmt.Sprintf(`%s; filename*=UTF-8''%s`, disposition, url.PathEscape(name)))

	mimeType := content.Attachment.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Data(http.StatusOK, mimeType, content.Data)
}
