// Package notify delivers best-effort alert notifications. Delivery failures are
// reported to the caller but never retried here.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

// Notification describes one alert that just fired.
type Notification struct {
	AlertID     string    `json:"alert_id"`
	OwnerID     string    `json:"owner_id"`
	Symbol      string    `json:"symbol"`
	Condition   string    `json:"condition"`
	Price       string    `json:"price"`
	TriggeredAt time.Time `json:"triggered_at"`
}

func NewNotification(a models.Alert, price string, at time.Time) Notification {
	return Notification{
		AlertID:     a.ID,
		OwnerID:     a.OwnerID,
		Symbol:      a.Symbol,
		Condition:   a.Condition,
		Price:       price,
		TriggeredAt: at.UTC(),
	}
}

// Message renders the notification as a single chat line.
func (n Notification) Message() string {
	return fmt.Sprintf("Alert %s: %s %s (last %s)", n.AlertID, n.Symbol, n.Condition, n.Price)
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the logger. It never fails.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier { return &LogNotifier{logger: logger} }

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("Alert triggered",
		zap.String("alert_id", n.AlertID),
		zap.String("owner_id", n.OwnerID),
		zap.String("symbol", n.Symbol),
		zap.String("condition", n.Condition),
		zap.String("price", n.Price),
	)
	return nil
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
