package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailport/backend/internal/auth"
	jwtpkg "mailport/backend/internal/auth/jwt"
	"mailport/backend/internal/cache"
	"mailport/backend/internal/config"
	"mailport/backend/internal/conversation"
	"mailport/backend/internal/health"
	"mailport/backend/internal/imap"
	"mailport/backend/internal/logger"
	"mailport/backend/internal/monitoring"
	"mailport/backend/internal/pool"
	"mailport/backend/internal/service"
	"mailport/backend/internal/smtp"
	"mailport/backend/internal/storage/factory"
	"mailport/backend/internal/storage/filesystem"
	httptransport "mailport/backend/internal/transport/http"
)

// main 启动 HTTP API、IMAP 轮询、SMTP 收信与会话回填。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting mailport server",
		zap.String("log_level", cfg.Log.Level),
		zap.String("database", cfg.Database.Type),
		zap.String("threading_mode", cfg.Threading.Mode),
	)

	// 存储
	stores, err := factory.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	blobs, err := filesystem.NewStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open attachment storage: %w", err)
	}

	metrics := monitoring.NewMetrics(nil)
	var redisPinger health.Pinger
	if stores.Redis != nil {
		redisPinger = stores.Redis
	}
	healthChecker := health.NewHealthChecker(stores.Store, redisPinger, log)

	// 服务层
	resolver := conversation.NewResolver(stores.Store, cfg.Threading.OwnerAddress)

	conversations := service.NewConversationService(stores.Store, resolver, cfg.Threading.BatchSize, log)
	conversations.SetMetrics(metrics)
	if stores.Locker != nil {
		conversations.SetLocker(stores.Locker)
	}

	ingest := service.NewIngestService(stores.Store, blobs, resolver, cfg.Threading.Mode, log)
	ingest.SetMetrics(metrics)

	hostname := cfg.SMTP.IntakeDomain
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	sender := smtp.NewSender(hostname, log)
	settings := service.NewSettingsService(stores.Store, blobs, blobs, sender, cfg, log)

	emails := service.NewEmailService(stores.Store, blobs, settings, log)
	emails.SetMetrics(metrics)

	statsCache := cache.NewLocalCache(64, 30*time.Second)
	defer statsCache.Close()
	stats := service.NewStatsService(stores.Store, statsCache, log)
	if stores.Redis != nil {
		stats.SetSharedCache(stores.Redis)
	}

	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	authService := auth.NewService(stores.Store, tokens, log)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:              cfg,
		AuthService:         authService,
		AdminService:        service.NewAdminService(stores.Store, log),
		EmailService:        emails,
		ConversationService: conversations,
		StatsService:        stats,
		SettingsService:     settings,
		HealthChecker:       healthChecker,
		Metrics:             metrics,
		Logger:              log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// IMAP 轮询
	if cfg.IMAP.Enabled {
		workers := pool.NewWorkerPool(cfg.IMAP.Workers, 256, log)
		workers.Start(groupCtx)

		poller := imap.NewPoller(imap.NewSettingsFetcher(settings, cfg.IMAP.Mailbox, log), ingest, workers, cfg.IMAP, log)
		poller.SetMetrics(metrics)

		group.Go(func() error {
			log.Info("starting IMAP poller", zap.Duration("interval", cfg.IMAP.PollInterval))
			err := poller.Run(groupCtx)
			workers.Stop()
			return err
		})
	}

	// SMTP 收信
	var intake interface{ Close() error }
	if cfg.SMTP.IntakeEnabled {
		limiter := smtp.NewConnectionLimiter(cfg.SMTP.IntakeMaxConns, 10, 20)
		backend := smtp.NewBackend(ingest, cfg.Threading.OwnerAddress, limiter, log)
		backend.SetMetrics(metrics)
		smtpServer := smtp.NewServer(cfg.SMTP, backend)
		intake = smtpServer

		group.Go(func() error {
			log.Info("starting SMTP intake",
				zap.String("address", cfg.SMTP.IntakeBindAddr),
				zap.String("domain", cfg.SMTP.IntakeDomain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !smtp.IsClosed(err) {
				return fmt.Errorf("smtp intake: %w", err)
			}
			return nil
		})
	}

	// 会话回填
	if cfg.Threading.Mode == config.ThreadingDeferred && cfg.Threading.BackfillInterval > 0 {
		group.Go(func() error {
			runBackfill(groupCtx, conversations, stats, cfg.Threading.BackfillInterval, log)
			return nil
		})
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if intake != nil {
			if err := intake.Close(); err != nil {
				log.Warn("SMTP intake close warning", zap.Error(err))
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runBackfill 定时为新入库的邮件补全会话
func runBackfill(ctx context.Context, conversations *service.ConversationService, stats *service.StatsService, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("starting conversation backfill", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("conversation backfill stopped")
			return
		case <-ticker.C:
			result, err := conversations.OrganizeExisting(ctx, nil)
			switch {
			case errors.Is(err, service.ErrBackfillRunning):
				log.Debug("conversation backfill skipped, another run is active")
			case err != nil && ctx.Err() == nil:
				log.Error("conversation backfill failed", zap.Error(err))
			case err == nil && result.OrganizedCount > 0:
				stats.Invalidate()
				log.Info("conversation backfill finished",
					zap.Int("organized", result.OrganizedCount),
					zap.Int("conversations", result.ConversationCount),
				)
			}
		}
	}
}
