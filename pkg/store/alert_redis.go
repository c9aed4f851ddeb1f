package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

const (
	alertPrefix       = "alert:"
	alertsActiveKey   = "alerts:active"
	alertsExpiryKey   = "alerts:expiry"
	alertsOwnerPrefix = "alerts:owner:"
)

// transitionScript is the compare-and-swap on an alert's status.
// KEYS: alert hash, active set, expiry zset. ARGV: id, expected, next, timestamp.
var transitionScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'updated_at', ARGV[4])
if ARGV[3] == 'triggered' then
  redis.call('HSET', KEYS[1], 'triggered_at', ARGV[4])
end
if ARGV[3] ~= 'active' then
  redis.call('SREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return 1
`)

// expireScript expires every active alert scored strictly below now.
// KEYS: expiry zset, active set. ARGV: now (unix ms), timestamp, alert key prefix.
var expireScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local expired = {}
for _, id in ipairs(ids) do
  local key = ARGV[3] .. id
  if redis.call('HGET', key, 'status') == 'active' then
    redis.call('HSET', key, 'status', 'expired', 'updated_at', ARGV[2])
    redis.call('SREM', KEYS[2], id)
    table.insert(expired, id)
  end
  redis.call('ZREM', KEYS[1], id)
end
return expired
`)

var _ AlertStore = (*RedisAlertStore)(nil)

// RedisAlertStore keeps each alert in a hash, indexed by an active set, a per-owner set
// and an expiry sorted set. Status changes run as Lua scripts so they are atomic.
type RedisAlertStore struct {
	client    *redis.Client
	publisher Publisher
}

func NewRedisAlertStore(client *redis.Client, publisher Publisher) *RedisAlertStore {
	return &RedisAlertStore{client: client, publisher: publisher}
}

func (s *RedisAlertStore) Insert(ctx context.Context, a models.Alert) error {
	if a.ID == "" {
		return errors.New("alert id is required")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("invalid alert status %q", a.Status)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, alertPrefix+a.ID, alertFields(a))
	pipe.SAdd(ctx, alertsOwnerPrefix+a.OwnerID, a.ID)
	if a.Status == models.AlertActive {
		pipe.SAdd(ctx, alertsActiveKey, a.ID)
		if a.ExpiresAt != nil {
			pipe.ZAdd(ctx, alertsExpiryKey, redis.Z{Score: float64(a.ExpiresAt.UnixMilli()), Member: a.ID})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}

	s.publish(ctx, models.ChangeInsert, a, nil)
	return nil
}

func (s *RedisAlertStore) Get(ctx context.Context, id string) (models.Alert, error) {
	fields, err := s.client.HGetAll(ctx, alertPrefix+id).Result()
	if err != nil {
		return models.Alert{}, err
	}
	if len(fields) == 0 {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return alertFromFields(fields)
}

func (s *RedisAlertStore) ListActive(ctx context.Context) ([]models.Alert, error) {
	ids, err := s.client.SMembers(ctx, alertsActiveKey).Result()
	if err != nil {
		return nil, err
	}
	alerts, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	active := alerts[:0]
	for _, a := range alerts {
		if a.Status == models.AlertActive {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *RedisAlertStore) ListByOwner(ctx context.Context, ownerID string) ([]models.Alert, error) {
	ids, err := s.client.SMembers(ctx, alertsOwnerPrefix+ownerID).Result()
	if err != nil {
		return nil, err
	}
	return s.getMany(ctx, ids)
}

func (s *RedisAlertStore) Transition(ctx context.Context, id string, expected, next models.AlertStatus, at time.Time) (int64, error) {
	keys := []string{alertPrefix + id, alertsActiveKey, alertsExpiryKey}
	n, err := transitionScript.Run(ctx, s.client, keys, id, string(expected), string(next), formatTime(at)).Int64()
	if err != nil {
		return 0, fmt.Errorf("transition alert %s: %w", id, err)
	}
	if n == 1 {
		s.publishTransition(ctx, id, expected)
	}
	return n, nil
}

func (s *RedisAlertStore) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	keys := []string{alertsExpiryKey, alertsActiveKey}
	ids, err := expireScript.Run(ctx, s.client, keys, now.UnixMilli(), formatTime(now), alertPrefix).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("expire alerts: %w", err)
	}
	for _, id := range ids {
		s.publishTransition(ctx, id, models.AlertActive)
	}
	return ids, nil
}

func (s *RedisAlertStore) getMany(ctx context.Context, ids []string) ([]models.Alert, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, alertPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		a, err := alertFromFields(fields)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// publishTransition emits the post-transition row. Failures only cost feed freshness.
func (s *RedisAlertStore) publishTransition(ctx context.Context, id string, from models.AlertStatus) {
	if s.publisher == nil {
		return
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		metrics.ChangePublishFailures.WithLabelValues(models.TableAlerts).Inc()
		return
	}
	prev := a
	prev.Status = from
	s.publish(ctx, models.ChangeUpdate, a, prev)
}

func (s *RedisAlertStore) publish(ctx context.Context, typ models.ChangeType, a models.Alert, previous any) {
	_ = publishChange(ctx, s.publisher, models.TableAlerts, a.OwnerID, typ, a.ID, a, previous)
}

func alertFields(a models.Alert) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"owner_id":     a.OwnerID,
		"symbol":       a.Symbol,
		"condition":    a.Condition,
		"status":       string(a.Status),
		"created_at":   formatTime(a.CreatedAt),
		"updated_at":   formatTime(a.UpdatedAt),
		"expires_at":   formatOptionalTime(a.ExpiresAt),
		"triggered_at": formatOptionalTime(a.TriggeredAt),
	}
}

func alertFromFields(f map[string]string) (models.Alert, error) {
	a := models.Alert{
		ID:        f["id"],
		OwnerID:   f["owner_id"],
		Symbol:    f["symbol"],
		Condition: f["condition"],
		Status:    models.AlertStatus(f["status"]),
	}
	var err error
	if a.CreatedAt, err = parseTime(f["created_at"]); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(f["updated_at"]); err != nil {
		return a, err
	}
	if a.ExpiresAt, err = parseOptionalTime(f["expires_at"]); err != nil {
		return a, err
	}
	if a.TriggeredAt, err = parseOptionalTime(f["triggered_at"]); err != nil {
		return a, err
	}
	return a, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
