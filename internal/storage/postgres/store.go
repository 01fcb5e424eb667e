package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailport/backend/internal/config"
	"mailport/backend/internal/domain"
	"mailport/backend/internal/storage"
)

// Store 基于 GORM 的关系型存储，支持 PostgreSQL 和 MySQL
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(cfg.DSN), cfg, log)
}

// NewMySQLStore 创建 MySQL 存储实例，DSN 需包含 parseTime=true
func NewMySQLStore(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(cfg.DSN), cfg, log)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
	sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &Store{db: db, log: log}

	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("relational store ready", zap.String("dialect", db.Dialector.Name()))
	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Email{},
		&domain.Attachment{},
		&domain.ActionLog{},
		&domain.MailSettings{},
	)
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DatabaseSize 返回当前数据库占用的字节数
func (s *Store) DatabaseSize(ctx context.Context) (int64, error) {
	var size int64
	var query string
	switch s.db.Dialector.Name() {
	case "postgres":
		query = "SELECT pg_database_size(current_database())"
	case "mysql":
		query = "SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables WHERE table_schema = DATABASE()"
	default:
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Raw(query).Scan(&size).Error; err != nil {
		return 0, err
	}
	return size, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetMailSettings 获取邮件配置
func (s *Store) GetMailSettings(ctx context.Context) (*domain.MailSettings, error) {
	var settings domain.MailSettings
	err := s.db.WithContext(ctx).Where("id = ?", domain.SettingsID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrSettingsNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// SaveMailSettings 保存邮件配置（按固定主键覆盖）
func (s *Store) SaveMailSettings(ctx context.Context, settings *domain.MailSettings) error {
	cp := *settings
	cp.ID = domain.SettingsID
	return s.db.WithContext(ctx).Save(&cp).Error
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

var _ storage.Store = (*Store)(nil)
