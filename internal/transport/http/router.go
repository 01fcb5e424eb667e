package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailport/backend/internal/auth"
	"mailport/backend/internal/config"
	"mailport/backend/internal/health"
	"mailport/backend/internal/middleware"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config              *config.Config
	AuthService         *auth.Service
	AdminService        *service.AdminService
	EmailService        *service.EmailService
	ConversationService *service.ConversationService
	StatsService        *service.StatsService
	SettingsService     *service.SettingsService
	HealthChecker       *health.HealthChecker // 可为 nil
	Metrics             *monitoring.Metrics   // 可为 nil
	Logger              *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	authHandler := NewAuthHandler(deps.AuthService, logger)
	adminHandler := NewAdminHandler(deps.AdminService, logger)
	emailHandler := NewEmailHandler(deps.EmailService, deps.StatsService, logger)
	conversationHandler := NewConversationHandler(deps.ConversationService, deps.StatsService, logger)
	statsHandler := NewStatsHandler(deps.StatsService, logger)
	settingsHandler := NewSettingsHandler(deps.SettingsService, deps.StatsService, logger)

	jwtAuth := middleware.NewJWTAuth(deps.AuthService, logger)
	requireAuth := jwtAuth.RequireAuth()
	requireAdmin := middleware.RequireAdmin()

	loginLimiter := middleware.NewIPRateLimiter(deps.Config.Auth.LoginRate, deps.Config.Auth.LoginBurst)
	loginLimiter.SetMetrics(deps.Metrics)

	// 健康检查
	router.GET("/health", healthSummary(deps.HealthChecker))
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/login", loginLimiter.Middleware(), authHandler.Login)
			authRoutes.GET("/profile", requireAuth, authHandler.Profile)
			authRoutes.PUT("/change-password", requireAuth, authHandler.ChangePassword)

			users := authRoutes.Group("/users", requireAuth, requireAdmin)
			users.GET("", adminHandler.ListUsers)
			users.POST("", adminHandler.CreateUser)
			users.PUT("/:id", adminHandler.UpdateUser)
			users.DELETE("/:id", adminHandler.DeleteUser)
		}

		// ========== Email Routes ==========
		emailRoutes := v1.Group("/emails")
		{
			// 图片预览用于 <img> 标签，不携带令牌
			emailRoutes.GET("/attachments/:attachmentId/view", emailHandler.ViewAttachment)

			emailRoutes.Use(requireAuth)
			emailRoutes.GET("", emailHandler.List)
			emailRoutes.GET("/stats", emailHandler.Stats)
			emailRoutes.GET("/attachments/:attachmentId/download", emailHandler.DownloadAttachment)
			emailRoutes.GET("/:id", emailHandler.Get)
			emailRoutes.GET("/:id/history", emailHandler.History)
			emailRoutes.PUT("/:id", emailHandler.Update)
			emailRoutes.POST("/:id/forward", emailHandler.Forward)
			emailRoutes.POST("/:id/reply", emailHandler.Reply)
		}

		// ========== Conversation Routes ==========
		conversationRoutes := v1.Group("/conversations", requireAuth)
		{
			conversationRoutes.GET("/stats", conversationHandler.Stats)
			conversationRoutes.POST("/organize", requireAdmin, conversationHandler.Organize)
			conversationRoutes.GET("/:id", conversationHandler.Get)
		}

		// ========== Stats Routes ==========
		statsRoutes := v1.Group("/stats", requireAuth)
		{
			statsRoutes.GET("/dashboard", statsHandler.Dashboard)
			statsRoutes.GET("/emails", statsHandler.Dashboard)
			statsRoutes.GET("/actions", statsHandler.Actions)
			statsRoutes.GET("/system", requireAdmin, statsHandler.System)
		}

		// ========== Settings Routes ==========
		settingsRoutes := v1.Group("/settings", requireAuth)
		{
			settingsRoutes.GET("/email", settingsHandler.GetEmailSettings)
			settingsRoutes.GET("/system", settingsHandler.SystemInfo)
			settingsRoutes.PUT("/email", requireAdmin, settingsHandler.UpdateEmailSettings)
			settingsRoutes.POST("/test-email", requireAdmin, settingsHandler.SendTestEmail)
			settingsRoutes.POST("/cleanup", requireAdmin, settingsHandler.Cleanup)
		}
	}

	return router
}

func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			break
		}
	}
	if len(cfg.AllowOrigins) == 0 && !cfg.AllowAllOrigins {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}

func healthSummary(checker *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		results, healthy := checker.CheckHealth(c.Request.Context())
		status := http.StatusOK
		state := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
