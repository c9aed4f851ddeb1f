package repository

import (
	"context"
)

// ChangeStore is what the gateway needs from storage: full-table fetches for the
// initial load and pub/sub channels for incremental changes.
type ChangeStore interface {
	Fetch(ctx context.Context, table string, keys []string) (interface{}, error)
	SubscribeToFeed(ctx context.Context, channel string) error
	UnsubscribeFromFeed(ctx context.Context, channel string) error
	RunPubSub(ctx context.Context, onMessage func(channel string, payload string))
	Close() error
}
