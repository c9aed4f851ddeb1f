package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/cmd/ingestor/internal/ingest"
	"github.com/shubham-shewale/market-alerts/pkg/config"
	"github.com/shubham-shewale/market-alerts/pkg/metrics"
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

	// Ensure the tick and alert-event topics exist
	tc := ingest.NewTopicCreator(logger, &ingest.RealKafkaDialer{Dialer: kafka.DefaultDialer}, ingest.RealClock{}, cfg.Kafka.Partitions)
	tc.Create(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.AlertsTopic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{}, // same symbol, same partition
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Kafka Write Error", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}

	var quoter ingest.Quoter
	switch cfg.Ingest.Provider {
	case "http":
		quoter = ingest.NewHTTPQuoter(cfg.Ingest.QuoteURL, cfg.Ingest.APIKey, cfg.Ingest.RequestTimeout)
	default:
		quoter = ingest.NewRandomQuoter(ingest.NewRealRand(), cfg.Ingest.BasePrices)
	}

	poller := ingest.NewPoller(logger, quoter, writer, cfg.Ingest.Symbols, ingest.Intervals{
		Poll:     cfg.Ingest.PollInterval,
		Fallback: cfg.Ingest.FallbackInterval,
		Cooldown: cfg.Ingest.RateLimitCooldown,
	}, ingest.RealClock{})

	metricsSrv := metrics.Serve(cfg.Metrics.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Run(ctx)
	}()

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()
	<-done

	// Flush the Kafka buffer before exiting
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
	if metricsSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		stop()
	}
}
