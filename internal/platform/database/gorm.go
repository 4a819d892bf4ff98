package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/threadcraft/api/internal/platform/config"
	"github.com/threadcraft/api/internal/platform/observability"
)

const (
	defaultConnMaxLifetime = 5 * time.Minute
	slowQueryThreshold     = 500 * time.Millisecond
)

// OpenPostgres connects gorm to the relational rate store with zap-backed SQL logging.
func OpenPostgres(cfg config.PostgresConfig, logger *zap.Logger) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("database: postgres dsn is required")
	}
	return Open(postgres.Open(dsn), cfg.MaxOpenConns, logger)
}

// Open wraps gorm.Open with the pool settings and logger used by every dialect.
func Open(dialector gorm.Dialector, maxOpenConns int, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: pool: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)
	return db, nil
}

// NewLogger routes gorm's warnings and slow queries through zap.
func NewLogger(logger *zap.Logger) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Discard
	}
	return gormlogger.New(observability.NewPrintfAdapter(logger.Named("gorm")), gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Ping checks the underlying connection for readiness probes.
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("database: not configured")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
