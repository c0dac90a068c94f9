package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/alerts"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to database.conf")
	name := flag.String("name", "consumer-1", "Consumer name within the group")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if !cfg.Redis.Enabled() {
		log.Error("REDIS_ADDR is not set")
		os.Exit(1)
	}

	notifier := alerts.NewNotifier(cfg.Alerts.WebhookURL, log)
	if !notifier.Enabled() {
		log.Warn("DISCORD_WEBHOOK_URL is not set, alerts will only be logged")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down...")
		cancel()
	}()

	consumer := alerts.NewConsumer(rdb, notifier, alerts.ConsumerConfig{
		Stream:         cfg.Redis.Stream,
		Name:           *name,
		MinDropPercent: cfg.Alerts.MinDropPercent,
	}, log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}
