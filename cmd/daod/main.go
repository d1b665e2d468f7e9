package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"sunshine.org/internal/auth"
	"sunshine.org/internal/config"
	"sunshine.org/internal/content"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/engine"
	"sunshine.org/internal/events"
	"sunshine.org/internal/httpapi"
	"sunshine.org/internal/ledger"
	"sunshine.org/internal/migrate"
	"sunshine.org/internal/obs"
	"sunshine.org/internal/rpc"
	"sunshine.org/internal/store/pg"
	"sunshine.org/internal/vote"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("DAO_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engCfg := engine.Config{
		MinSeed:          dao.Amount(cfg.Treasury.MinSeed),
		DefaultThreshold: vote.PercentThreshold(vote.Pct(cfg.Vote.DefaultSupportPct), vote.Pct(cfg.Vote.DefaultTurnoutPct)),
		DefaultDuration:  dao.Height(cfg.Vote.DefaultDuration),
	}

	stream := events.NewStream()
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSink(func(evts []events.Event) { stream.Publish(evts...) }),
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publisher := events.NewRedisPublisher(redisClient, cfg.Redis.Channel, logger)
		go publisher.Run(ctx)
		opts = append(opts, engine.WithSink(func(evts []events.Event) { publisher.Enqueue(evts...) }))
		logger.Info("publishing events to redis", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}

	var (
		db    *sql.DB
		funds ledger.Service = ledger.NewInMemory()
		eng   *engine.Engine
	)
	if cfg.PG.DSN != "" {
		db, err = pg.Open(cfg.PG.DSN)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		if err := migrate.NewManager(db, pg.Migrations(), nil, migrate.WithLogger(logger)).Up(ctx); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		states := pg.NewStateStore(db)
		funds = pg.NewWallets(db)
		eng = engine.New(funds, engCfg, append(opts, engine.WithPersister(states))...)

		snap, history, err := states.Load(ctx)
		if err != nil {
			logger.Fatal("load state", zap.Error(err))
		}
		if err := eng.Restore(snap, history); err != nil {
			logger.Fatal("restore state", zap.Error(err))
		}
		logger.Info("state restored", zap.Uint64("last_event", eng.LastEvent()), zap.Uint64("height", uint64(eng.Height())))
	} else {
		logger.Warn("pg.dsn not set, state is kept in memory")
		eng = engine.New(funds, engCfg, opts...)
	}

	var store content.Store = content.NewMemory()
	if cfg.S3.Bucket != "" {
		client, err := content.NewS3Client(ctx, content.S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, logger)
		if err != nil {
			logger.Fatal("s3 client", zap.Error(err))
		}
		store = content.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix)
	}

	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal("token service", zap.Error(err))
	}

	api := httpapi.New(eng, httpapi.Options{
		Version:      version,
		Ready:        httpapi.ReadyProbe{DB: db},
		Content:      store,
		Stream:       stream,
		Tokens:       tokens,
		TokenTTL:     cfg.Auth.TokenTTL,
		RateBurst:    cfg.HTTP.RateBurst,
		RatePerSec:   int(cfg.HTTP.RatePerSec),
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Faucet:       cfg.Dev.Faucet,
		FaucetAmount: dao.Amount(cfg.Dev.FaucetAmount),
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE responses stay open
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rpcSrv := rpc.NewServer(eng, stream, tokens, version)
	grpcServer := grpc.NewServer(rpcSrv.ServerOptions()...)
	rpcSrv.Register(grpcServer)

	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()

	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("grpc serve", zap.Error(err))
			}
		}()
	}

	if cfg.Chain.BlockInterval > 0 {
		go runClock(ctx, eng, cfg.Chain.BlockInterval, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}

// runClock advances the height by one every interval. Votes past their
// expiry are closed on each tick.
func runClock(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := eng.AdvanceHeight(ctx, eng.Height()+1)
			if err != nil {
				logger.Error("advance height", zap.Error(err))
				continue
			}
			for _, v := range expired {
				logger.Info("vote closed", zap.Uint64("vote", uint64(v.ID)), zap.String("outcome", string(v.Outcome)))
			}
		}
	}
}
