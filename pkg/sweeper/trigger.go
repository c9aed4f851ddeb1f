// Package sweeper runs the periodic alert jobs: triggering alerts whose condition holds
// against the latest snapshot, and expiring alerts past their expiry.
//
// Both sweepers only mutate alerts through status-guarded transitions, so any number of
// them may run at once; a transition that affects zero rows was handled by someone else.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/condition"
	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/models"
	"github.com/shubham-shewale/market-alerts/pkg/notify"
	"github.com/shubham-shewale/market-alerts/pkg/store"
)

const (
	DefaultSnapshotTimeout = 3 * time.Second
	DefaultStoreTimeout    = 5 * time.Second
	DefaultNotifyTimeout   = 5 * time.Second
)

// QuoteReader is the slice of the snapshot store the trigger sweep needs.
type QuoteReader interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
}

// TriggerResult summarises one trigger sweep.
type TriggerResult struct {
	Evaluated      int
	Triggered      int
	AlreadyHandled int
	Skipped        int
	Malformed      int
}

type TriggerSweeper struct {
	alerts          store.AlertStore
	quotes          QuoteReader
	notifier        notify.Notifier
	logger          *zap.Logger
	snapshotTimeout time.Duration
	storeTimeout    time.Duration
	notifyTimeout   time.Duration
	now             func() time.Time
}

type TriggerOption func(*TriggerSweeper)

func WithSnapshotTimeout(d time.Duration) TriggerOption {
	return func(s *TriggerSweeper) {
		if d > 0 {
			s.snapshotTimeout = d
		}
	}
}

// WithStoreTimeout bounds each alert store call made by the sweep.
func WithStoreTimeout(d time.Duration) TriggerOption {
	return func(s *TriggerSweeper) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithNotifyTimeout(d time.Duration) TriggerOption {
	return func(s *TriggerSweeper) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithTriggerClock(now func() time.Time) TriggerOption {
	return func(s *TriggerSweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTriggerSweeper builds the sweeper. notifier may be nil.
func NewTriggerSweeper(alerts store.AlertStore, quotes QuoteReader, notifier notify.Notifier, logger *zap.Logger, opts ...TriggerOption) *TriggerSweeper {
	s := &TriggerSweeper{
		alerts:          alerts,
		quotes:          quotes,
		notifier:        notifier,
		logger:          logger,
		snapshotTimeout: DefaultSnapshotTimeout,
		storeTimeout:    DefaultStoreTimeout,
		notifyTimeout:   DefaultNotifyTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TriggerSweeper) Name() string { return "trigger" }

// Sweep evaluates every active alert once. Only failing to list alerts is an error;
// everything per alert is logged and left to the next cycle.
func (s *TriggerSweeper) Sweep(ctx context.Context) (TriggerResult, error) {
	var res TriggerResult

	listCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	active, err := s.alerts.ListActive(listCtx)
	cancel()
	if err != nil {
		return res, fmt.Errorf("list active alerts: %w", err)
	}
	now := s.now()

	var symbols []string
	bySymbol := make(map[string][]models.Alert)
	for _, a := range active {
		if _, ok := bySymbol[a.Symbol]; !ok {
			symbols = append(symbols, a.Symbol)
		}
		bySymbol[a.Symbol] = append(bySymbol[a.Symbol], a)
	}

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		group := bySymbol[symbol]

		quote, err := s.latest(ctx, symbol)
		if err != nil {
			reason := "snapshot_error"
			if errors.Is(err, store.ErrNotFound) {
				reason = "no_snapshot"
				s.logger.Debug("No snapshot, skipping alerts", zap.String("symbol", symbol), zap.Int("alerts", len(group)))
			} else {
				s.logger.Warn("Snapshot unavailable, skipping alerts", zap.String("symbol", symbol), zap.Error(err))
			}
			res.Skipped += len(group)
			metrics.AlertsSkipped.WithLabelValues(reason).Add(float64(len(group)))
			continue
		}
		price := quote.Current.Price.InexactFloat64()

		for _, a := range group {
			s.evaluate(ctx, a, quote, price, now, &res)
		}
	}
	return res, nil
}

func (s *TriggerSweeper) evaluate(ctx context.Context, a models.Alert, quote models.Quote, price float64, now time.Time, res *TriggerResult) {
	// Expiry wins a tie: an alert already past expiry is left to the expiry sweeper.
	if a.ExpiredAt(now) {
		res.Skipped++
		metrics.AlertsSkipped.WithLabelValues("expired").Inc()
		return
	}

	cond, err := condition.Parse(a.Condition)
	if err != nil {
		res.Malformed++
		metrics.AlertsSkipped.WithLabelValues("malformed").Inc()
		s.logger.Warn("Malformed alert condition", zap.String("alert_id", a.ID), zap.String("condition", a.Condition))
		return
	}
	res.Evaluated++
	if !cond.Holds(price) {
		return
	}

	txCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	n, err := s.alerts.Transition(txCtx, a.ID, models.AlertActive, models.AlertTriggered, now)
	cancel()
	if err != nil {
		s.logger.Error("Trigger transition failed", zap.String("alert_id", a.ID), zap.Error(err))
		return
	}
	if n == 0 {
		res.AlreadyHandled++
		metrics.AlertRaceLosses.Inc()
		s.logger.Debug("Alert already handled", zap.String("alert_id", a.ID))
		return
	}

	res.Triggered++
	metrics.AlertTransitions.WithLabelValues(string(models.AlertTriggered)).Inc()
	s.logger.Info("Alert triggered",
		zap.String("alert_id", a.ID),
		zap.String("symbol", a.Symbol),
		zap.String("condition", a.Condition),
		zap.String("price", quote.Current.Price.String()),
	)
	s.notify(ctx, notify.NewNotification(a, quote.Current.Price.String(), now))
}

func (s *TriggerSweeper) latest(ctx context.Context, symbol string) (models.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.snapshotTimeout)
	defer cancel()
	return s.quotes.Quote(ctx, symbol)
}

// notify is fire-and-forget: the alert has fired whatever happens here.
func (s *TriggerSweeper) notify(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, n); err != nil {
		metrics.NotificationFailures.WithLabelValues(s.notifier.Name()).Inc()
		s.logger.Warn("Notification failed", zap.String("alert_id", n.AlertID), zap.Error(err))
	}
}
