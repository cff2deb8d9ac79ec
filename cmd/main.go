package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"bidhouse/internal/config"
	"bidhouse/internal/domain/service/engine"
	"bidhouse/internal/domain/service/ledger"
	"bidhouse/internal/fanout"
	"bidhouse/internal/infrastructure/balance"
	"bidhouse/internal/infrastructure/notifier"
	"bidhouse/internal/infrastructure/persistence"
	"bidhouse/internal/server"
	"bidhouse/internal/worker"
	"bidhouse/pkg/application/connectors"
	"bidhouse/pkg/application/modules"
	"bidhouse/pkg/logx"
	"bidhouse/pkg/middlewarex"
)

const appName = "bidhouse"

var version = "dev" //nolint:gochecknoglobals // set via ldflags

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(log)

	if err := run(ctx, log); err != nil {
		log.Error("application failed", logx.Error(err))
		os.Exit(1)
	}

	log.Info("application stopped")
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config.Load: %w", err)
	}

	pg := &connectors.Postgres{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	}
	db := pg.Client(ctx)
	defer pg.Close(ctx)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db.Ping: %w", err)
	}

	rd := &connectors.Redis{
		Address:        cfg.Redis.Addr,
		Password:       cfg.Redis.Password,
		DatabaseNumber: cfg.Redis.DB,
	}
	redisClient := rd.Client(ctx)
	defer rd.Close(ctx)

	auctionRepo := persistence.NewAuctionRepository(db)
	bidRepo := persistence.NewBidRepository(db)

	auctionLedger := ledger.New(auctionRepo)

	restored, err := auctionLedger.Hydrate(ctx)
	if err != nil {
		return fmt.Errorf("ledger.Hydrate: %w", err)
	}
	log.Info("ledger hydrated", slog.Int("auctions", restored))

	replayLog := fanout.NewRedisReplayLog(redisClient, cfg.Redis.ReplayMaxEvents, cfg.Redis.ReplayRetention)
	hub := fanout.NewHub(replayLog).WithSubscriberBuffer(cfg.Engine.SubscriberBuffer)

	balanceClient := balance.NewClient(
		cfg.Balance.BaseURL,
		cfg.Balance.Token,
		cfg.Balance.Timeout,
		cfg.Server.LogFieldMaxLen,
	)

	var notify engine.Notifications = notifier.NopEnqueuer{}

	if cfg.Bot.Token != "" {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()

		notify = notifier.NewEnqueuer(asynqClient)
	}

	eng := engine.New(
		auctionLedger,
		balanceClient,
		bidRepo,
		hub,
		notify,
		engine.NewMetrics(prometheus.DefaultRegisterer),
	)

	scheduler := worker.NewLifecycleScheduler(eng).
		WithTicks(cfg.Engine.NearTick, cfg.Engine.FarTick).
		WithNearWindow(cfg.Engine.NearWindow).
		WithEndingSoonWindow(cfg.Engine.EndingSoonWindow)

	masker := logx.NewSensitiveDataMasker()

	router := chi.NewRouter()
	router.Use(
		middlewarex.TraceID,
		middlewarex.Logger,
		middlewarex.RequestLogging(masker, cfg.Server.LogFieldMaxLen),
		middlewarex.ResponseLogging(masker, cfg.Server.LogFieldMaxLen),
		middlewarex.Recovery,
	)

	srv := server.NewServer(server.NewAuctionServer(eng, server.NewStreamServer(hub)))
	srv.RegisterRoutes(router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return auctionLedger.Run(gctx)
	})

	if err := scheduler.Start(gctx); err != nil {
		return fmt.Errorf("scheduler.Start: %w", err)
	}
	defer scheduler.Stop()

	modules.HTTPServer{ShutdownTimeout: cfg.Server.ShutdownTimeout}.Run(gctx, g, &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
		// No WriteTimeout: /v1/stream holds the connection open.
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	})

	modules.ProbeServer{
		Name:          appName,
		Version:       version,
		ListenAddress: cfg.Server.ProbeAddr,
	}.Run(gctx, g)

	modules.MetricServer{ListenAddress: cfg.Server.MetricAddr}.Run(gctx, g)

	if cfg.Bot.Token != "" {
		bot, err := notifier.NewTelegramNotifier(cfg.Bot.Token, cfg.Bot.ChatID)
		if err != nil {
			return fmt.Errorf("notifier.NewTelegramNotifier: %w", err)
		}

		modules.AsynqServer{
			RedisAddress:  cfg.Redis.Addr,
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
		}.Run(gctx, g,
			modules.AsynqQueues{"default": 10},
			modules.AsynqHandler{Pattern: notifier.TaskDeliver, Handle: notifier.HandleDeliver(bot)},
		)
	}

	log.Info("bid engine started", slog.String("address", cfg.Server.Addr))

	return g.Wait()
}
