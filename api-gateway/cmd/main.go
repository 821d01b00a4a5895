package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/toivape/nauction/api-gateway/internal/handlers"
	"github.com/toivape/nauction/internal/app"
	"github.com/toivape/nauction/internal/bidding"
	"github.com/toivape/nauction/internal/events"
	"github.com/toivape/nauction/shared/config"
	"github.com/toivape/nauction/shared/logging"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		logging.New("api-gateway", "info").Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load configuration from environment variables
	cfg := loadConfig()
	logger := logging.New("api-gateway", cfg.LogLevel)
	logger.Info("starting API Gateway")

	ctx := context.Background()

	loc, err := app.LoadLocation()
	if err != nil {
		logger.Error("failed to load time zone", "error", err)
		os.Exit(1)
	}

	st, closeStore, err := app.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var publishers events.Fanout

	// Redis Pub/Sub feeds the broadcast service
	if cfg.RedisAddr != "" {
		redis, err := events.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redis.Close()
		publishers = append(publishers, events.NewRedisPublisher(redis))
		logger.Info("connected to Redis", "addr", cfg.RedisAddr)
	}

	// JetStream keeps a durable copy for downstream consumers
	if cfg.NatsURL != "" {
		natsConn, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			logger.Error("failed to connect to NATS", "url", cfg.NatsURL, "error", err)
			os.Exit(1)
		}
		defer natsConn.Close()
		js, err := events.NewJetStreamPublisher(ctx, natsConn, logger)
		if err != nil {
			logger.Error("failed to set up JetStream", "error", err)
			os.Exit(1)
		}
		publishers = append(publishers, js)
		logger.Info("connected to NATS", "url", cfg.NatsURL)
	}

	// Initialize services
	biddingService := bidding.NewService(st, logger,
		bidding.WithPublisher(publishers),
		bidding.WithLocation(loc))

	// Initialize HTTP handlers
	handler := handlers.NewHandler(biddingService, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("API Gateway listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped gracefully")
}

// Config holds application configuration
type Config struct {
	ServerAddr    string
	LogLevel      string
	Store         app.StoreConfig
	RedisAddr     string // empty disables Redis publishing
	RedisPassword string
	RedisDB       int
	NatsURL       string // empty disables JetStream publishing
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8080"),
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
		Store:         app.LoadStoreConfig(),
		RedisAddr:     config.LookupEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
		NatsURL:       config.LookupEnv("NATS_URL", "nats://localhost:4222"),
	}
}
