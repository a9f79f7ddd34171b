package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"dicegame/internal/bot"
	"dicegame/internal/config"
	"dicegame/internal/handlers"
	"dicegame/internal/logger"
	"dicegame/internal/service"
	"dicegame/internal/storage"
)

// settlementStreamMaxLen bounds the Redis stream
const settlementStreamMaxLen = 100_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}

	authority, err := cfg.Authority()
	if err != nil {
		log.Fatalf("%v", err)
	}
	params, err := cfg.Params()
	if err != nil {
		log.Fatalf("Invalid game parameters: %v", err)
	}
	signer, err := cfg.OracleSigner()
	if err != nil {
		log.Fatalf("%v", err)
	}

	// Initialize SQLite database
	logger.Info("main", "database_open", cfg.DatabasePath)
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	engine := service.NewEngine(store)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("main", "redis_unreachable", err)
		}
		cancel()

		engine.AddListener(service.NewRedisPublisher(client, cfg.SettlementStream, settlementStreamMaxLen))
		logger.Info("main", "settlement_stream_enabled", cfg.SettlementStream)
	}

	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, engine)
		if err != nil {
			log.Fatalf("Failed to start bot: %v", err)
		}
		engine.AddListener(service.NewNotificationService(b.Telebot(), engine, cfg.ChannelID))
		go b.Start()
		defer b.Stop()
	}

	// Reference oracle runs only when its key is present
	if signer != nil {
		worker := service.NewOracleWorker(engine, signer, cfg.OraclePollInterval)
		worker.Start()
		defer worker.Stop()
	}

	h := handlers.NewHandler(engine, authority, params, cfg.WelcomeBonusLamports)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           handlers.NewRouter(h, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("main", "server_starting", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("main", "shutting_down", "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("main", "shutdown_failed", err)
	}
}
