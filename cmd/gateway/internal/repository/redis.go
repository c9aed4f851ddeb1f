package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/market-alerts/pkg/models"
	"github.com/shubham-shewale/market-alerts/pkg/store"
)

// Compile-time check to ensure RedisStore implements ChangeStore
var _ ChangeStore = (*RedisStore)(nil)

type RedisStore struct {
	client    *redis.Client
	pubsub    *redis.PubSub
	mu        sync.Mutex // Protects access to pubsub
	snapshots store.SnapshotStore
	alerts    store.AlertStore
	watchlist store.WatchlistStore
}

func NewRedisStore(client *redis.Client, snapshots store.SnapshotStore, alerts store.AlertStore, watchlist store.WatchlistStore) *RedisStore {
	ps := client.Subscribe(context.Background())
	return &RedisStore{
		client:    client,
		pubsub:    ps,
		snapshots: snapshots,
		alerts:    alerts,
		watchlist: watchlist,
	}
}

// Fetch returns the current rows of table for the given partition keys.
func (r *RedisStore) Fetch(ctx context.Context, table string, keys []string) (interface{}, error) {
	switch table {
	case models.TablePrices:
		quotes, err := r.snapshots.Quotes(ctx, keys)
		if quotes == nil {
			quotes = []models.Quote{}
		}
		return quotes, err
	case models.TableAlerts:
		out := []models.Alert{}
		for _, owner := range keys {
			alerts, err := r.alerts.ListByOwner(ctx, owner)
			if err != nil {
				return nil, err
			}
			out = append(out, alerts...)
		}
		return out, nil
	case models.TableWatchlist:
		out := []models.WatchlistEntry{}
		for _, user := range keys {
			entries, err := r.watchlist.List(ctx, user)
			if err != nil {
				return nil, err
			}
			out = append(out, entries...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown table %q", table)
}

// SubscribeToFeed tells Redis we want to listen to this channel
func (r *RedisStore) SubscribeToFeed(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Subscribe(ctx, channel)
}

// UnsubscribeFromFeed tells Redis to stop sending messages for this channel
func (r *RedisStore) UnsubscribeFromFeed(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Unsubscribe(ctx, channel)
}

// RunPubSub is a blocking loop that reads messages from Redis and triggers the callback
func (r *RedisStore) RunPubSub(ctx context.Context, onMessage func(channel string, payload string)) {
	ch := r.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			onMessage(msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisStore) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
