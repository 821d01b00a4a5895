package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/toivape/nauction/broadcast-service/internal/redis"
	wsHandler "github.com/toivape/nauction/broadcast-service/internal/websocket"
	"github.com/toivape/nauction/internal/events"
	"github.com/toivape/nauction/shared/config"
	"github.com/toivape/nauction/shared/logging"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		logging.New("broadcast-service", "info").Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg := loadConfig()
	logger := logging.New("broadcast-service", cfg.LogLevel)
	logger.Info("starting Broadcast Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redis, err := events.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer redis.Close()

	// Subscribe to all bid events using pattern matching
	subscriber := redisClient.NewSubscriber(redis, logger)
	if err := subscriber.SubscribeToAllItems(ctx); err != nil {
		logger.Error("failed to subscribe to Redis channels", "error", err)
		os.Exit(1)
	}
	defer subscriber.Close()
	logger.Info("subscribed to bid events", "pattern", events.ChannelPrefix+"*")

	wsManager := wsHandler.NewManager(logger)
	go wsManager.Run(ctx)

	messageChan := make(chan *redisClient.Message, 256)

	go func() {
		if err := subscriber.Listen(ctx, messageChan); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Redis listener stopped", "error", err)
		}
	}()

	// Forward Redis Pub/Sub messages to WebSocket clients
	go func() {
		for msg := range messageChan {
			if err := wsManager.BroadcastBid(msg.ItemID, msg.Event); err != nil {
				logger.Warn("failed to broadcast bid", "item_id", msg.ItemID, "error", err)
			}
		}
	}()

	handler := wsHandler.NewHandler(wsManager, logger)

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     handler.SetupRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Broadcast Service listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8081"),
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
		RedisAddr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
	}
}
