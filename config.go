package modepress

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Config holds every runtime setting of the document engine
type Config struct {
	Store          StoreConfig          `json:"store" yaml:"store"`
	Query          QueryConfig          `json:"query" yaml:"query"`
	Reference      ReferenceConfig      `json:"reference" yaml:"reference"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker" yaml:"circuitBreaker"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
	Export         ExportConfig         `json:"export" yaml:"export"`
	Security       SecurityConfig       `json:"security" yaml:"security"`
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Mongo    MongoConfig    `json:"mongo" yaml:"mongo"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// MongoConfig contains MongoDB connection settings
type MongoConfig struct {
	URI            string        `json:"uri" yaml:"uri"`
	Database       string        `json:"database" yaml:"database"`
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout"`
}

// PostgresConfig contains PostgreSQL connection settings for the JSONB store
type PostgresConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"sslMode" yaml:"sslMode"`
	MaxConnections  int           `json:"maxConnections" yaml:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	Table           string        `json:"table" yaml:"table"`
	// UseIAMAuth generates an Aurora DSQL auth token instead of using Password.
	UseIAMAuth bool   `json:"useIamAuth" yaml:"useIamAuth"`
	Region     string `json:"region" yaml:"region"`
}

// QueryConfig contains paging settings
type QueryConfig struct {
	DefaultTimeout  time.Duration `json:"defaultTimeout" yaml:"defaultTimeout"`
	DefaultPageSize int           `json:"defaultPageSize" yaml:"defaultPageSize"`
	MaxPageSize     int           `json:"maxPageSize" yaml:"maxPageSize"`
}

// ReferenceConfig controls foreign key checks and cascades
type ReferenceConfig struct {
	ValidateOnWrite bool `json:"validateOnWrite" yaml:"validateOnWrite"`
	CascadeDelete   bool `json:"cascadeDelete" yaml:"cascadeDelete"`
	// MaxCascadeDepth bounds recursive removal; 0 means no limit.
	MaxCascadeDepth int  `json:"maxCascadeDepth" yaml:"maxCascadeDepth"`
}

// CircuitBreakerConfig guards the store against repeated failures
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failureThreshold" yaml:"failureThreshold"`
	Window           time.Duration `json:"window" yaml:"window"`
	OpenDuration     time.Duration `json:"openDuration" yaml:"openDuration"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ExportConfig contains S3 snapshot export settings
type ExportConfig struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"accessKeyId" yaml:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey" yaml:"secretAccessKey"`
	UsePathStyle    bool   `json:"usePathStyle" yaml:"usePathStyle"`
	BatchSize       int    `json:"batchSize" yaml:"batchSize"`
}

// SecurityConfig contains argon2id password hashing parameters
type SecurityConfig struct {
	Argon2Time      uint32 `json:"argon2Time" yaml:"argon2Time"`
	Argon2MemoryKiB uint32 `json:"argon2MemoryKiB" yaml:"argon2MemoryKiB"`
	Argon2Threads   uint8  `json:"argon2Threads" yaml:"argon2Threads"`
	Argon2KeyLength uint32 `json:"argon2KeyLength" yaml:"argon2KeyLength"`
	SaltLength      int    `json:"saltLength" yaml:"saltLength"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverMemory,
			Mongo: MongoConfig{
				URI:            "mongodb://localhost:27017",
				Database:       "modepress",
				ConnectTimeout: 10 * time.Second,
			},
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "modepress",
				SSLMode:         "disable",
				MaxConnections:  25,
				ConnMaxLifetime: 5 * time.Minute,
				Table:           "documents",
			},
		},
		Query: QueryConfig{
			DefaultTimeout:  30 * time.Second,
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
		Reference: ReferenceConfig{
			ValidateOnWrite: true,
			CascadeDelete:   true,
			MaxCascadeDepth: 0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			Window:           30 * time.Second,
			OpenDuration:     10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Export: ExportConfig{
			Prefix:    "exports",
			Region:    "us-east-1",
			BatchSize: 500,
		},
		Security: SecurityConfig{
			Argon2Time:      1,
			Argon2MemoryKiB: 64 * 1024,
			Argon2Threads:   4,
			Argon2KeyLength: 32,
			SaltLength:      16,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverMongo:
		if c.Store.Mongo.URI == "" {
			return &ConfigError{Field: "store.mongo.uri", Message: "is required for the mongo driver"}
		}
		if c.Store.Mongo.Database == "" {
			return &ConfigError{Field: "store.mongo.database", Message: "is required for the mongo driver"}
		}
	case DriverPostgres:
		if c.Store.Postgres.MaxConnections <= 0 {
			return &ConfigError{Field: "store.postgres.maxConnections", Message: "must be greater than 0"}
		}
		if c.Store.Postgres.Table == "" {
			return &ConfigError{Field: "store.postgres.table", Message: "is required for the postgres driver"}
		}
		if c.Store.Postgres.UseIAMAuth && c.Store.Postgres.Region == "" {
			return &ConfigError{Field: "store.postgres.region", Message: "is required when useIamAuth is set"}
		}
	default:
		return &ConfigError{Field: "store.driver", Message: fmt.Sprintf("unknown driver '%s'", c.Store.Driver)}
	}

	if c.Query.DefaultPageSize <= 0 {
		return &ConfigError{Field: "query.defaultPageSize", Message: "must be greater than 0"}
	}

	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return &ConfigError{Field: "query.maxPageSize", Message: "must be greater than or equal to defaultPageSize"}
	}

	if c.Reference.MaxCascadeDepth < 0 {
		return &ConfigError{Field: "reference.maxCascadeDepth", Message: "cannot be negative, use 0 for no limit"}
	}

	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold <= 0 {
		return &ConfigError{Field: "circuitBreaker.failureThreshold", Message: "must be greater than 0"}
	}

	if c.Security.Argon2KeyLength == 0 || c.Security.SaltLength <= 0 {
		return &ConfigError{Field: "security", Message: "argon2 key and salt lengths must be greater than 0"}
	}

	return nil
}
