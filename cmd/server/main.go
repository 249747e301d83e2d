package main

import (
	"context"
	"net/http"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/lychee-technology/modepress/internal"
)

// Server represents the HTTP server over a collection registry
type Server struct {
	registry *internal.Registry
	mux      *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(registry *internal.Registry) *Server {
	return &Server{
		registry: registry,
		mux:      http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/v1/schemas", s.handleSchema)
	s.mux.HandleFunc("/api/v1/schemas/", s.handleSchema)
	s.mux.HandleFunc("/api/v1/", s.apiHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server on the given port
func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

func main() {
	cfg, err := loadConfig(getEnv("MODEPRESS_CONFIG", ""))
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	internal.RegisterTelemetryEmitter(zapTelemetry(logger))

	ctx := context.Background()
	engine, err := newEngine(ctx, cfg)
	if err != nil {
		sugar.Fatalf("failed to start engine: %v", err)
	}
	defer engine.Close(ctx)

	server := NewServer(engine.Registry)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
