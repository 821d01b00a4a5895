package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toivape/nauction/internal/app"
	"github.com/toivape/nauction/internal/bidding"
	"github.com/toivape/nauction/internal/events"
	"github.com/toivape/nauction/renewal-worker/internal/scheduler"
	"github.com/toivape/nauction/shared/config"
	"github.com/toivape/nauction/shared/logging"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		logging.New("renewal-worker", "info").Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg := loadConfig()
	logger := logging.New("renewal-worker", cfg.LogLevel)
	logger.Info("starting Renewal Worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Without Redis the worker assumes it is the only replica
	var locker scheduler.Locker
	if cfg.RedisAddr != "" {
		redis, err := events.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redis.Close()
		locker = scheduler.NewRedisLocker(redis)
	} else {
		logger.Warn("REDIS_ADDR is empty, renewal runs are not locked")
	}

	biddingService := bidding.NewService(st, logger, bidding.WithLocation(loc))

	sched := scheduler.New(biddingService, locker, scheduler.Config{
		Hour:       cfg.Hour,
		Minute:     cfg.Minute,
		Location:   loc,
		RunOnStart: cfg.RunOnStart,
		LockKey:    cfg.LockKey,
		LockTTL:    cfg.LockTTL,
	}, logger)

	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("worker stopped gracefully")
}

// Config holds application configuration
type Config struct {
	LogLevel      string
	Store         app.StoreConfig
	RedisAddr     string // empty disables the run lock
	RedisPassword string
	RedisDB       int
	Hour          int
	Minute        int
	RunOnStart    bool
	LockKey       string
	LockTTL       time.Duration
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		LogLevel:      config.GetEnv("LOG_LEVEL", "info"),
		Store:         app.LoadStoreConfig(),
		RedisAddr:     config.LookupEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
		Hour:          config.GetEnvInt("RENEWAL_HOUR", 0),
		Minute:        config.GetEnvInt("RENEWAL_MINUTE", 1),
		RunOnStart:    config.GetEnvBool("RENEWAL_RUN_ON_START", false),
		LockKey:       config.GetEnv("RENEWAL_LOCK_KEY", "nauction:renewal-lock"),
		LockTTL:       config.GetEnvDuration("RENEWAL_LOCK_TTL", 10*time.Minute),
	}
}
