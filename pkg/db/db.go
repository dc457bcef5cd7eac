package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/observability"
	obslogger "github.com/smallbiznis/carlot/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(provideConfig),
	fx.Provide(NewFx),
)

func provideConfig(app config.Config, obs observability.Config) Config {
	cfg := FromAppConfig(app)
	cfg.ExportStats = obs.PrometheusDBStats
	return cfg
}

// Open connects to the configured database and installs tracing and,
// when enabled, connection pool metrics.
func Open(cfg Config, gormLog obslogger.GormLoggerConfig, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 obslogger.NewGormLogger(gormLog, log),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Type, err)
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Name))); err != nil {
		return nil, err
	}
	if cfg.ExportStats {
		if err := conn.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          cfg.Name,
			RefreshInterval: 15,
		})); err != nil {
			return nil, err
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return conn, nil
}

// NewFx opens the database and closes it on shutdown.
func NewFx(lc fx.Lifecycle, cfg Config, gormLog obslogger.GormLoggerConfig, log *zap.Logger) (*gorm.DB, error) {
	conn, err := Open(cfg, gormLog, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return conn, nil
}

// WithSearchPath scopes tx to a tenant schema for the rest of the transaction.
// It is a no-op outside postgres or when schema is empty.
func WithSearchPath(tx *gorm.DB, schema string) error {
	schema = strings.TrimSpace(schema)
	if schema == "" || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SET LOCAL search_path TO " + pq.QuoteIdentifier(schema)).Error
}

// InSchema runs fn in one transaction scoped to schema. Reads that decide
// what to write must go through the same scope as the writes.
func InSchema(ctx context.Context, conn *gorm.DB, schema string, fn func(tx *gorm.DB) error) error {
	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := WithSearchPath(tx, schema); err != nil {
			return err
		}
		return fn(tx)
	})
}

// DisableStatementTimeout lifts the server statement timeout for the rest of
// the transaction. Only postgres honours it.
func DisableStatementTimeout(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SET LOCAL statement_timeout = 0").Error
}
