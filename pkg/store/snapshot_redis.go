package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

const (
	keyPrefix          = "stock:"
	observationsPrefix = "observations:"
	// only the two most recent observations are ever needed
	keepObservations = 2
	snapshotTTL      = time.Hour
)

// Compile-time check to ensure RedisSnapshotStore implements SnapshotStore
var _ SnapshotStore = (*RedisSnapshotStore)(nil)

type RedisSnapshotStore struct {
	client    *redis.Client
	publisher Publisher
}

// NewRedisSnapshotStore builds the store; publisher may be nil to skip change events.
func NewRedisSnapshotStore(client *redis.Client, publisher Publisher) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, publisher: publisher}
}

// Append records obs as the newest observation, trims history to two entries,
// refreshes the latest snapshot key and publishes a "prices" change.
func (s *RedisSnapshotStore) Append(ctx context.Context, obs models.PriceObservation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("marshal observation: %w", err)
	}
	listKey := observationsPrefix + obs.Symbol

	// Atomic read-previous + push + trim + snapshot in one MULTI
	pipe := s.client.TxPipeline()
	prevCmd := pipe.LIndex(ctx, listKey, 0)
	pipe.LPush(ctx, listKey, payload)
	pipe.LTrim(ctx, listKey, 0, keepObservations-1)
	pipe.Expire(ctx, listKey, snapshotTTL)
	pipe.Set(ctx, keyPrefix+obs.Symbol, payload, snapshotTTL)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("append observation %s: %w", obs.Symbol, err)
	}

	if s.publisher == nil {
		return nil
	}

	quote := models.Quote{Symbol: obs.Symbol, Current: obs}
	typ := models.ChangeInsert
	var previous any
	if raw, err := prevCmd.Result(); err == nil {
		var prev models.PriceObservation
		if err := json.Unmarshal([]byte(raw), &prev); err == nil {
			quote.Previous = &prev
			typ = models.ChangeUpdate
			previous = models.Quote{Symbol: obs.Symbol, Current: prev}
		}
	}
	return publishChange(ctx, s.publisher, models.TablePrices, obs.Symbol, typ, obs.Symbol, quote, previous)
}

// Latest returns up to n observations for symbol, newest first.
func (s *RedisSnapshotStore) Latest(ctx context.Context, symbol string, n int) ([]models.PriceObservation, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := s.client.LRange(ctx, observationsPrefix+symbol, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	return decodeObservations(raws)
}

// Quote returns the prices row for symbol, or ErrNotFound when nothing was observed.
func (s *RedisSnapshotStore) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	obs, err := s.Latest(ctx, symbol, keepObservations)
	if err != nil {
		return models.Quote{}, err
	}
	return quoteFrom(symbol, obs)
}

// Quotes fetches the prices rows for symbols in one round trip, skipping unknown symbols.
func (s *RedisSnapshotStore) Quotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(symbols))
	for i, sym := range symbols {
		cmds[i] = pipe.LRange(ctx, observationsPrefix+sym, 0, keepObservations-1)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var quotes []models.Quote
	for i, cmd := range cmds {
		obs, err := decodeObservations(cmd.Val())
		if err != nil {
			return nil, err
		}
		q, err := quoteFrom(symbols[i], obs)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func decodeObservations(raws []string) ([]models.PriceObservation, error) {
	out := make([]models.PriceObservation, 0, len(raws))
	for _, raw := range raws {
		var obs models.PriceObservation
		if err := json.Unmarshal([]byte(raw), &obs); err != nil {
			return nil, fmt.Errorf("decode observation: %w", err)
		}
		out = append(out, obs)
	}
	return out, nil
}

func quoteFrom(symbol string, newestFirst []models.PriceObservation) (models.Quote, error) {
	if len(newestFirst) == 0 {
		return models.Quote{}, fmt.Errorf("quote %s: %w", symbol, ErrNotFound)
	}
	q := models.Quote{Symbol: symbol, Current: newestFirst[0]}
	if len(newestFirst) > 1 {
		prev := newestFirst[1]
		q.Previous = &prev
	}
	return q, nil
}
