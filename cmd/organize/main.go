package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/conversation"
	"mailport/backend/internal/logger"
	"mailport/backend/internal/service"
	"mailport/backend/internal/storage/factory"
)

// organize 为历史邮件一次性补全会话，可重复执行
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDevelopmentLogger()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := factory.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer stores.Close()

	resolver := conversation.NewResolver(stores.Store, cfg.Threading.OwnerAddress)
	svc := service.NewConversationService(stores.Store, resolver, cfg.Threading.BatchSize, log)
	if stores.Locker != nil {
		svc.SetLocker(stores.Locker)
	}

	result, err := svc.OrganizeExisting(ctx, func(p service.Progress) {
		if p.Done {
			return
		}
		log.Info("organizing",
			zap.Int("processed", p.Processed),
			zap.Int("organized", p.Organized),
			zap.Int("conversations", p.Conversations),
			zap.Int("failed", p.Failed),
		)
	})
	if errors.Is(err, service.ErrBackfillRunning) {
		log.Warn("another organize run is active, nothing to do")
		return
	}
	if err != nil {
		log.Error("organize failed", zap.Error(err))
		stop()
		os.Exit(1)
	}

	fmt.Printf("✓ organized %d emails into %d conversations\n", result.OrganizedCount, result.ConversationCount)
}
