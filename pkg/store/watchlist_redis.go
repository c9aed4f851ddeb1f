package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

const watchlistPrefix = "watchlist:"

var _ WatchlistStore = (*RedisWatchlistStore)(nil)

type RedisWatchlistStore struct {
	client    *redis.Client
	publisher Publisher
}

func NewRedisWatchlistStore(client *redis.Client, publisher Publisher) *RedisWatchlistStore {
	return &RedisWatchlistStore{client: client, publisher: publisher}
}

// Add puts the symbol on the user's watchlist and reports whether it was new.
func (s *RedisWatchlistStore) Add(ctx context.Context, e models.WatchlistEntry) (bool, error) {
	e.Symbol = models.NormalizeSymbol(e.Symbol)
	n, err := s.client.SAdd(ctx, watchlistPrefix+e.UserID, e.Symbol).Result()
	if err != nil {
		return false, fmt.Errorf("watchlist add: %w", err)
	}
	if n == 1 {
		_ = publishChange(ctx, s.publisher, models.TableWatchlist, e.UserID, models.ChangeInsert, e.EntityKey(), e, nil)
	}
	return n == 1, nil
}

// Remove drops the symbol and reports whether it was present.
func (s *RedisWatchlistStore) Remove(ctx context.Context, e models.WatchlistEntry) (bool, error) {
	e.Symbol = models.NormalizeSymbol(e.Symbol)
	n, err := s.client.SRem(ctx, watchlistPrefix+e.UserID, e.Symbol).Result()
	if err != nil {
		return false, fmt.Errorf("watchlist remove: %w", err)
	}
	if n == 1 {
		_ = publishChange(ctx, s.publisher, models.TableWatchlist, e.UserID, models.ChangeDelete, e.EntityKey(), nil, e)
	}
	return n == 1, nil
}

func (s *RedisWatchlistStore) List(ctx context.Context, userID string) ([]models.WatchlistEntry, error) {
	symbols, err := s.client.SMembers(ctx, watchlistPrefix+userID).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	sort.Strings(symbols)
	entries := make([]models.WatchlistEntry, 0, len(symbols))
	for _, sym := range symbols {
		entries = append(entries, models.WatchlistEntry{UserID: userID, Symbol: sym})
	}
	return entries, nil
}
