// Package factory 根据配置组装存储层
package factory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailport/backend/internal/config"
	"mailport/backend/internal/storage"
	"mailport/backend/internal/storage/hybrid"
	"mailport/backend/internal/storage/memory"
	"mailport/backend/internal/storage/postgres"
	"mailport/backend/internal/storage/redis"
	sqlstore "mailport/backend/internal/storage/sql"
)

// Stores 组装好的存储组件
type Stores struct {
	Store  storage.Store
	Locker storage.Locker // 单进程部署时为 nil
	Redis  *redis.Client  // 未启用 Redis 时为 nil

	closers []func()
}

// Close 按创建的逆序关闭所有组件
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Open 按配置打开数据库，启用 Redis 时叠加用户缓存并使用 Redis 锁，
// 否则 PostgreSQL 使用 advisory lock。
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	if log == nil {
		log = zap.NewNop()
	}

	stores := &Stores{}
	db, err := openDatabase(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	stores.Store = db
	stores.closers = append(stores.closers, func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	})

	if cfg.Redis.Enabled {
		rc, err := redis.New(cfg.Redis, log)
		if err != nil {
			stores.Close()
			return nil, err
		}
		// hybrid.Store 关闭时一并关闭数据库和 Redis
		stores.closers = stores.closers[:0]
		hs := hybrid.NewStore(db, rc, log)
		stores.Store = hs
		stores.Locker = rc
		stores.Redis = rc
		stores.closers = append(stores.closers, func() {
			if err := hs.Close(); err != nil {
				log.Warn("failed to close store", zap.Error(err))
			}
		})
		return stores, nil
	}

	if cfg.Database.Type == "postgres" {
		pg, err := postgres.New(ctx, cfg.Database, log)
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.Locker = pg
		stores.closers = append(stores.closers, pg.Close)
	}

	return stores, nil
}

func openDatabase(cfg config.DatabaseConfig, log *zap.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "", "memory":
		log.Info("using memory storage")
		return memory.NewStore(), nil
	case "sqlite":
		return sqlstore.NewStore(cfg, log)
	case "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	switch cfg.Driver {
	case "sql":
		return sqlstore.NewStore(cfg, log)
	case "", "gorm":
		if cfg.Type == "mysql" {
			return postgres.NewMySQLStore(cfg, log)
		}
		return postgres.NewStore(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
