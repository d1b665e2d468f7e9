// Command daowatch follows the events daod publishes to Redis and logs each
// one once, even with several replicas running.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sunshine.org/internal/config"
	"sunshine.org/internal/events"
	"sunshine.org/internal/obs"
)

func main() {
	configPath := flag.String("config", os.Getenv("DAO_CONFIG"), "Path to a YAML config file")
	claimTTL := flag.Duration("claim-ttl", 24*time.Hour, "How long a handled event id is remembered")
	flag.Parse()

	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("redis.addr is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	in, err := events.Subscribe(ctx, client, cfg.Redis.Channel, logger)
	if err != nil {
		logger.Fatal("subscribe", zap.Error(err))
	}

	dedupe := events.NewRedisDeduper(client, cfg.Redis.Channel+":seen:", *claimTTL)
	w := events.NewWatcher(dedupe, func(_ context.Context, e events.Event) error {
		logger.Info("event",
			zap.Uint64("seq", e.Seq),
			zap.String("type", string(e.Type)),
			zap.String("caller", string(e.Caller)),
			zap.Uint64("height", uint64(e.Height)),
			zap.ByteString("payload", e.Payload),
		)
		return nil
	}, logger)

	logger.Info("watching", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	if err := w.Run(ctx, in); err != nil && ctx.Err() == nil {
		logger.Fatal("watch", zap.Error(err))
	}
}
