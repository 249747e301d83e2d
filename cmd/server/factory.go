package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/factory"
	"github.com/lychee-technology/modepress/internal"
)

// loadConfig reads the optional config file and applies environment
// overrides on top of it.
func loadConfig(path string) (*modepress.Config, error) {
	cfg, err := modepress.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)

	cfg.Store.Mongo.URI = getEnv("MONGO_URI", cfg.Store.Mongo.URI)
	cfg.Store.Mongo.Database = getEnv("MONGO_DATABASE", cfg.Store.Mongo.Database)

	pg := &cfg.Store.Postgres
	pg.Host = getEnv("DB_HOST", pg.Host)
	pg.Port = getEnvInt("DB_PORT", pg.Port)
	pg.Database = getEnv("DB_NAME", pg.Database)
	pg.Username = getEnv("DB_USER", pg.Username)
	pg.Password = getEnv("DB_PASSWORD", pg.Password)
	pg.SSLMode = getEnv("DB_SSL_MODE", pg.SSLMode)
	pg.MaxConnections = getEnvInt("DB_MAX_CONNECTIONS", pg.MaxConnections)
	pg.ConnMaxLifetime = time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SECONDS", int(pg.ConnMaxLifetime/time.Second))) * time.Second
	pg.Table = getEnv("DB_TABLE", pg.Table)
	pg.UseIAMAuth = getEnvBool("DB_USE_IAM", pg.UseIAMAuth)
	pg.Region = getEnv("AWS_REGION", pg.Region)

	cfg.Query.DefaultPageSize = getEnvInt("QUERY_DEFAULT_PAGE_SIZE", cfg.Query.DefaultPageSize)
	cfg.Query.MaxPageSize = getEnvInt("QUERY_MAX_PAGE_SIZE", cfg.Query.MaxPageSize)
	cfg.Reference.CascadeDelete = getEnvBool("CASCADE_DELETE", cfg.Reference.CascadeDelete)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a production logger, or a development one at debug level.
func newLogger(cfg modepress.LoggingConfig) (*zap.Logger, error) {
	if cfg.Level == "debug" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg.Encoding = "console"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// zapTelemetry logs engine measurements at debug level.
func zapTelemetry(logger *zap.Logger) internal.TelemetryEmitter {
	sugar := logger.Sugar()
	return func(_ context.Context, name string, labels map[string]string, value any) {
		sugar.Debugw("telemetry", "metric", name, "labels", labels, "value", value)
	}
}

func newEngine(ctx context.Context, cfg *modepress.Config) (*factory.Engine, error) {
	engine, err := factory.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return engine, nil
}
