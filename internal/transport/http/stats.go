package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/service"
)

// StatsHandler 统计API处理器
type StatsHandler struct {
	stats *service.StatsService
	log   *zap.Logger
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(stats *service.StatsService, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, log: logger}
}

// Dashboard 仪表盘统计
// @Tags 统计
// @Router /v1/stats/dashboard [get]
func (h *StatsHandler) Dashboard(c *gin.Context) {
	stats, err := h.stats.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "dashboard stats", err)
		return
	}
	Success(c, stats)
}

// Actions 操作统计
// @Tags 统计
// @Router /v1/stats/actions [get]
func (h *StatsHandler) Actions(c *gin.Context) {
	stats, err := h.stats.Actions(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "action stats", err)
		return
	}
	Success(c, stats)
}

// System 系统统计
// @Tags 统计
// @Router /v1/stats/system [get]
func (h *StatsHandler) System(c *gin.Context) {
	stats, err := h.stats.System(c.Request.Context())
	if err != nil {
		respondError(c, h.log, "system stats", err)
		return
	}
	Success(c, stats)
}
