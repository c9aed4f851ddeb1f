package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/market-alerts/pkg/config"
	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := store.NewRedisClient(cfg.Redis)
	publisher := store.NewRedisPublisher(rdb)
	alerts, err := store.OpenAlertStore(cfg, rdb, publisher)
	if err != nil {
		logger.Fatal("Failed to open alert store", zap.Error(err))
	}
	repo := repository.NewRedisStore(rdb,
		store.NewRedisSnapshotStore(rdb, publisher),
		alerts,
		store.NewRedisWatchlistStore(rdb, publisher),
	)

	// Dependency Injection: Hub depends on the Repository Interface
	wsHub := hub.NewHub(repo, logger)

	validTickers := make(map[string]bool)
	for _, t := range cfg.Gateway.ValidTickers {
		validTickers[t] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger, validTickers)
		client.Start()
	})
	mux.Handle("/v1/fetch", gateway.FetchHandler(repo, validTickers, logger))

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}
	metricsSrv := metrics.Serve(cfg.Metrics.Addr)

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}
	if err := repo.Close(); err != nil {
		logger.Warn("Failed to close redis", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
