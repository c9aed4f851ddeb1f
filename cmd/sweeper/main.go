package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/config"
	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/notify"
	"github.com/shubham-shewale/market-alerts/pkg/store"
	"github.com/shubham-shewale/market-alerts/pkg/sweeper"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	rdb := store.NewRedisClient(cfg.Redis)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	publisher := store.NewRedisPublisher(rdb)
	alerts, err := store.OpenAlertStore(cfg, rdb, publisher)
	if err != nil {
		logger.Fatal("Failed to open alert store", zap.String("store", cfg.Sweeper.Store), zap.Error(err))
	}
	snapshots := store.NewRedisSnapshotStore(rdb, publisher)

	notifier, closeNotifier := notify.Build(cfg, logger)
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn("Failed to close notifier", zap.Error(err))
		}
	}()

	trigger := sweeper.NewTriggerSweeper(alerts, snapshots, notifier, logger,
		sweeper.WithSnapshotTimeout(cfg.Sweeper.SnapshotTimeout),
		sweeper.WithStoreTimeout(cfg.Sweeper.StoreTimeout),
		sweeper.WithNotifyTimeout(cfg.Sweeper.NotifyTimeout),
	)
	expiry := sweeper.NewExpirySweeper(alerts, logger, time.Now,
		sweeper.WithExpiryStoreTimeout(cfg.Sweeper.StoreTimeout))

	scheduler := sweeper.NewScheduler(logger,
		sweeper.TriggerJob(trigger, cfg.Sweeper.TriggerInterval),
		sweeper.ExpiryJob(expiry, cfg.Sweeper.ExpiryInterval),
	)

	metricsSrv := metrics.Serve(cfg.Metrics.Addr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Sweeper Started",
		zap.String("store", cfg.Sweeper.Store),
		zap.Duration("trigger_interval", cfg.Sweeper.TriggerInterval),
		zap.Duration("expiry_interval", cfg.Sweeper.ExpiryInterval))
	scheduler.Run(ctx)

	logger.Info("Shutdown signal received, sweeps drained")
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		done()
	}
}
