// Command alertctl manages price alerts and watchlists and runs one-off sweeps
// against the same stores the services use.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/config"
	"github.com/shubham-shewale/market-alerts/pkg/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "alertctl",
		Short:         "Manage price alerts and watchlists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		createCmd(),
		listCmd(),
		importCmd(),
		sweepCmd(),
		watchCmd(),
		watchlistCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env is what most commands need: config, a logger and the stores.
type env struct {
	cfg       *config.Config
	logger    *zap.Logger
	rdb       *redis.Client
	alerts    store.AlertStore
	snapshots *store.RedisSnapshotStore
	watchlist *store.RedisWatchlistStore
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	rdb := store.NewRedisClient(cfg.Redis)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	publisher := store.NewRedisPublisher(rdb)
	alerts, err := store.OpenAlertStore(cfg, rdb, publisher)
	if err != nil {
		rdb.Close()
		return nil, err
	}

	return &env{
		cfg:       cfg,
		logger:    logger,
		rdb:       rdb,
		alerts:    alerts,
		snapshots: store.NewRedisSnapshotStore(rdb, publisher),
		watchlist: store.NewRedisWatchlistStore(rdb, publisher),
	}, nil
}

func (e *env) Close() {
	e.rdb.Close()
	_ = e.logger.Sync()
}
