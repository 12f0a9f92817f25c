// Package store provides GORM-backed persistence for contents, interactions,
// metrics and scheduled tasks.
// This package is internal and should not be imported by external projects.
package store

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/socialflow/config"
	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// 🗄️ 数据访问层
// =============================================================================

// Stores 聚合全部仓储，共享一个 GORM 连接。
type Stores struct {
	db *gorm.DB

	Contents     *ContentStore
	Interactions *InteractionStore
	Analytics    *AnalyticsStore
	Tasks        *TaskStore
}

// Open 按配置建立数据库连接并完成迁移。
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Stores, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s, err := NewStores(db)
	if err != nil {
		return nil, err
	}

	logger.Info("database initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return s, nil
}

// NewStores 基于已有连接创建仓储并执行迁移，测试中配合 sqlite 内存库使用。
func NewStores(db *gorm.DB) (*Stores, error) {
	if err := db.AutoMigrate(
		&types.Content{},
		&types.Interaction{},
		&types.MetricSnapshot{},
		&types.Task{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Stores{
		db:           db,
		Contents:     &ContentStore{db: db},
		Interactions: &InteractionStore{db: db},
		Analytics:    &AnalyticsStore{db: db},
		Tasks:        &TaskStore{db: db},
	}, nil
}

// DB 返回底层 GORM 实例。
func (s *Stores) DB() *gorm.DB {
	return s.db
}

// Ping 检查数据库连接。
func (s *Stores) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接。
func (s *Stores) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTransaction 在事务中执行函数。
func (s *Stores) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// notFound 将 gorm.ErrRecordNotFound 转换为统一的领域错误。
func notFound(err error, code types.ErrorCode, id string) error {
	if err == gorm.ErrRecordNotFound {
		return &types.Error{
			Code:       code,
			Message:    fmt.Sprintf("record not found: %s", id),
			HTTPStatus: 404,
		}
	}
	return err
}
