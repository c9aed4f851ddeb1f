package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

var _ Publisher = (*RedisPublisher)(nil)

// RedisPublisher fans change events out over Redis pub/sub.
type RedisPublisher struct {
	client redis.Cmdable
}

func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, table, partition string, typ models.ChangeType, key string, entity, previous any) error {
	change := models.Change{Table: table, Type: typ, Key: key}

	var err error
	if entity != nil {
		if change.Entity, err = json.Marshal(entity); err != nil {
			return fmt.Errorf("marshal entity: %w", err)
		}
	}
	if previous != nil {
		if change.Previous, err = json.Marshal(previous); err != nil {
			return fmt.Errorf("marshal previous: %w", err)
		}
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return p.client.Publish(ctx, models.ChangeChannel(table, partition), payload).Err()
}

// publishChange emits the change for a write that has already committed, so a
// failure cannot be returned to the writer; it is counted per table instead.
func publishChange(ctx context.Context, p Publisher, table, partition string, typ models.ChangeType, key string, entity, previous any) error {
	if p == nil {
		return nil
	}
	err := p.Publish(ctx, table, partition, typ, key, entity, previous)
	if err != nil {
		metrics.ChangePublishFailures.WithLabelValues(table).Inc()
	}
	return err
}
