package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/service"
)

// ConversationHandler 会话API处理器
type ConversationHandler struct {
	conversations *service.ConversationService
	stats         *service.StatsService
	log           *zap.Logger
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(conversations *service.ConversationService, stats *service.StatsService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		stats:         stats,
		log:           logger,
	}
}

// Get 会话中的全部邮件，按时间升序
// @Tags 会话
// @Router /v1/conversations/{id} [get]
func (h *ConversationHandler) Get(c *gin.Context) {
	emails, err := h.conversations.GetConversationEmails(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, "get conversation", err)
		return
	}
	Success(c, emails)
}

// Stats 会话统计
// @Tags 会话
// @Router /v1/conversations/stats [get]
func (h *ConversationHandler) Stats(c *gin.Context) {
	stats, err := h.conversations.GetConversationStats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "conversation stats", err)
		return
	}
	Success(c, stats)
}

// Organize 为尚未归入会话的邮件补全会话
// @Tags 会话
// @Router /v1/conversations/organize [post]
func (h *ConversationHandler) Organize(c *gin.Context) {
	result, err := h.conversations.OrganizeExisting(c.Request.Context(), nil)
	if err != nil {
		respondError(c, h.log, "organize conversations", err)
		return
	}
	if h.stats != nil {
		h.stats.Invalidate()
	}
	SuccessWithMsg(c, "会话整理完成", result)
}
