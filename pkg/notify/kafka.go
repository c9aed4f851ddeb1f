package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter abstracts the alert-event topic writer
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes triggered alerts to a Kafka topic keyed by owner.
type KafkaNotifier struct {
	writer KafkaWriter
}

func NewKafkaNotifier(writer KafkaWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.OwnerID), Value: payload})
}

func (k *KafkaNotifier) Close() error { return k.writer.Close() }
