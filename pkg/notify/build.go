package notify

import (
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/config"
)

// Build assembles the configured sinks: the log sink always, plus the webhook
// and the alert-event topic when enabled. The returned close func flushes them.
func Build(cfg *config.Config, logger *zap.Logger) (Notifier, func() error) {
	sinks := Multi{NewLogNotifier(logger)}
	closeFn := func() error { return nil }

	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Sweeper.NotifyTimeout))
	}
	if cfg.Notify.Kafka {
		kn := NewKafkaNotifier(&kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.AlertsTopic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		})
		sinks = append(sinks, kn)
		closeFn = kn.Close
	}
	return sinks, closeFn
}
