package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/models"
	"github.com/shubham-shewale/market-alerts/pkg/store"
)

// ExpirySweeper moves active alerts whose expiresAt has passed to expired.
type ExpirySweeper struct {
	alerts       store.AlertStore
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
}

type ExpiryOption func(*ExpirySweeper)

// WithExpiryStoreTimeout bounds the bulk expiry update.
func WithExpiryStoreTimeout(d time.Duration) ExpiryOption {
	return func(s *ExpirySweeper) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func NewExpirySweeper(alerts store.AlertStore, logger *zap.Logger, now func() time.Time, opts ...ExpiryOption) *ExpirySweeper {
	if now == nil {
		now = time.Now
	}
	s := &ExpirySweeper{alerts: alerts, logger: logger, now: now, storeTimeout: DefaultStoreTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ExpirySweeper) Name() string { return "expiry" }

// Sweep runs one bulk guarded expiry and returns how many alerts it expired.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	ids, err := s.alerts.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire due alerts: %w", err)
	}
	if len(ids) > 0 {
		metrics.AlertTransitions.WithLabelValues(string(models.AlertExpired)).Add(float64(len(ids)))
		s.logger.Info("Alerts expired", zap.Int("count", len(ids)), zap.Strings("alert_ids", ids))
	}
	return len(ids), nil
}
