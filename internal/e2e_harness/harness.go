package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lychee-technology/modepress"
)

const (
	pgUser     = "postgres"
	pgPassword = "password"
	pgDatabase = "modepress"

	s3AccessKey = "minio"
	s3SecretKey = "minio"
)

// TestHarness holds the containers used by E2E tests.
type TestHarness struct {
	PGContainer    testcontainers.Container
	PGHost         string
	PGPort         int
	PGDB           *sql.DB
	MongoContainer testcontainers.Container
	MongoURI       string
	S3Container    testcontainers.Container
	S3Endpoint     string
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest) (testcontainers.Container, string, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", "", err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(req.ExposedPorts[0]))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", "", err
	}
	return container, host, mapped.Port(), nil
}

// StartPostgres starts a postgres container and waits until it accepts
// connections. Caller is responsible for calling StopPostgres.
func (h *TestHarness) StartPostgres(ctx context.Context) error {
	container, host, port, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_USER":     pgUser,
			"POSTGRES_DB":       pgDatabase,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	})
	if err != nil {
		return err
	}
	h.PGContainer = container
	h.PGHost = host
	h.PGPort, _ = strconv.Atoi(port)

	db, err := sql.Open("postgres", h.PostgresDSN())
	if err != nil {
		return err
	}
	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := db.PingContext(ctx); err == nil {
			h.PGDB = db
			return nil
		}
		if time.Now().After(deadline) {
			db.Close()
			return fmt.Errorf("postgres did not become ready: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// PostgresDSN returns a connection string for the running Postgres container.
func (h *TestHarness) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", pgUser, pgPassword, h.PGHost, h.PGPort, pgDatabase)
}

// StopPostgres stops the Postgres container and closes the DB handle.
func (h *TestHarness) StopPostgres(ctx context.Context) error {
	if h.PGDB != nil {
		h.PGDB.Close()
		h.PGDB = nil
	}
	if h.PGContainer != nil {
		if err := h.PGContainer.Terminate(ctx); err != nil {
			return err
		}
		h.PGContainer = nil
	}
	return nil
}

// StartMongo starts a single node MongoDB container.
func (h *TestHarness) StartMongo(ctx context.Context) error {
	container, host, port, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		return err
	}
	h.MongoContainer = container
	h.MongoURI = fmt.Sprintf("mongodb://%s:%s", host, port)
	return nil
}

func (h *TestHarness) StopMongo(ctx context.Context) error {
	if h.MongoContainer != nil {
		if err := h.MongoContainer.Terminate(ctx); err != nil {
			return err
		}
		h.MongoContainer = nil
	}
	return nil
}

// StartS3 starts an S3 compatible object store and returns its endpoint.
func (h *TestHarness) StartS3(ctx context.Context) error {
	container, host, port, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": s3AccessKey,
			"RUSTFS_SECRET_KEY": s3SecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})
	if err != nil {
		return err
	}
	h.S3Container = container
	h.S3Endpoint = fmt.Sprintf("http://%s:%s", host, port)
	return nil
}

func (h *TestHarness) StopS3(ctx context.Context) error {
	if h.S3Container != nil {
		if err := h.S3Container.Terminate(ctx); err != nil {
			return err
		}
		h.S3Container = nil
	}
	return nil
}

// PostgresConfig returns an engine configuration pointing at the running
// Postgres container.
func (h *TestHarness) PostgresConfig() *modepress.Config {
	cfg := testConfig()
	cfg.Store.Driver = modepress.DriverPostgres
	cfg.Store.Postgres.Host = h.PGHost
	cfg.Store.Postgres.Port = h.PGPort
	cfg.Store.Postgres.Username = pgUser
	cfg.Store.Postgres.Password = pgPassword
	cfg.Store.Postgres.Database = pgDatabase
	return cfg
}

// MongoConfig returns an engine configuration pointing at the running
// MongoDB container. Each call uses a fresh database.
func (h *TestHarness) MongoConfig(database string) *modepress.Config {
	cfg := testConfig()
	cfg.Store.Driver = modepress.DriverMongo
	cfg.Store.Mongo.URI = h.MongoURI
	cfg.Store.Mongo.Database = database
	return cfg
}

// ExportConfig returns export settings for the running object store.
func (h *TestHarness) ExportConfig(bucket string) modepress.ExportConfig {
	return modepress.ExportConfig{
		Bucket:          bucket,
		Prefix:          "e2e",
		Region:          "us-east-1",
		Endpoint:        h.S3Endpoint,
		AccessKeyID:     s3AccessKey,
		SecretAccessKey: s3SecretKey,
		UsePathStyle:    true,
		BatchSize:       2,
	}
}

func testConfig() *modepress.Config {
	cfg := modepress.DefaultConfig()
	cfg.Security.Argon2MemoryKiB = 64
	cfg.Security.Argon2Threads = 1
	return cfg
}
