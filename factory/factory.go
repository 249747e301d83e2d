package factory

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/collections"
	"github.com/lychee-technology/modepress/internal"
)

// Engine is a registry with every built-in collection over a guarded store.
type Engine struct {
	Registry *internal.Registry
	Store    *internal.GuardedStore
	Config   *modepress.Config
}

// New opens the store selected by config and builds the engine on it.
//
// Usage:
//
//	cfg, _ := modepress.LoadConfig("modepress.yaml")
//	engine, err := factory.New(ctx, cfg)
//	if err != nil {
//	    // handle error
//	}
//	defer engine.Close(ctx)
//	posts, _ := engine.Model(collections.Posts)
func New(ctx context.Context, config *modepress.Config) (*Engine, error) {
	if config == nil {
		config = modepress.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, config)
	if err != nil {
		return nil, err
	}
	engine, err := NewWithStore(ctx, config, store)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return engine, nil
}

// NewWithStore builds the engine on an already opened store and creates
// the collection indexes.
func NewWithStore(ctx context.Context, config *modepress.Config, store modepress.Store) (*Engine, error) {
	if config == nil {
		config = modepress.DefaultConfig()
	}
	guarded := internal.NewGuardedStore(store, internal.NewCircuitBreakerFromConfig(config.CircuitBreaker))
	registry := internal.NewRegistry(guarded, config)
	if err := collections.Register(registry, config); err != nil {
		return nil, err
	}
	if err := registry.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	zap.S().Infow("modepress engine ready", "driver", config.Store.Driver, "collections", registry.Names())
	return &Engine{Registry: registry, Store: guarded, Config: config}, nil
}

// Model returns the model of a registered collection.
func (e *Engine) Model(name string) (modepress.Model, error) {
	return e.Registry.Model(name)
}

func (e *Engine) Close(ctx context.Context) error {
	return e.Store.Close(ctx)
}

// OpenStore connects the store named by config.Store.Driver.
func OpenStore(ctx context.Context, config *modepress.Config) (modepress.Store, error) {
	switch config.Store.Driver {
	case modepress.DriverMemory, "":
		return internal.NewMemoryStore(), nil
	case modepress.DriverMongo:
		return internal.NewMongoStore(ctx, config.Store.Mongo)
	case modepress.DriverPostgres:
		pool, err := NewPostgresPool(ctx, config.Store.Postgres)
		if err != nil {
			return nil, err
		}
		store := internal.NewPostgresStore(pool, config.Store.Postgres.Table)
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store driver '%s'", config.Store.Driver)
}

// NewPostgresPool creates and pings a pgx pool. With UseIAMAuth the
// password is replaced by a DSQL connect token.
func NewPostgresPool(ctx context.Context, cfg modepress.PostgresConfig) (*pgxpool.Pool, error) {
	if err := internal.ValidatePostgresConfig(cfg); err != nil {
		return nil, &modepress.ConfigError{Field: "store.postgres", Message: err.Error()}
	}
	password := cfg.Password
	if cfg.UseIAMAuth {
		token, err := iamToken(ctx, cfg)
		if err != nil {
			return nil, err
		}
		password = token
	}

	poolConfig, err := pgxpool.ParseConfig(postgresConnString(cfg, password))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func iamToken(ctx context.Context, cfg modepress.PostgresConfig) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	endpoint := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
	if err != nil {
		return "", fmt.Errorf("generate dsql auth token: %w", err)
	}
	zap.S().Infow("generated IAM auth token for postgres", "host", cfg.Host)
	return token, nil
}

func postgresConnString(cfg modepress.PostgresConfig, password string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}
