package reconciler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const DefaultSuperviseInterval = 5 * time.Second

// Supervise connects r and re-enters Connecting every interval while r is Disconnected.
// A non-positive interval means DefaultSuperviseInterval. It blocks until ctx is done,
// then closes r.
func Supervise[T Entity](ctx context.Context, r *Reconciler[T], interval time.Duration, logger *zap.Logger) {
	defer r.Close()
	if interval <= 0 {
		interval = DefaultSuperviseInterval
	}

	connect := func() {
		if err := r.Connect(ctx); err != nil && !errors.Is(err, ErrSuperseded) && ctx.Err() == nil {
			logger.Warn("Reconnect failed", zap.String("table", r.name), zap.Error(err))
		}
	}

	connect()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.State() == Disconnected {
				connect()
			}
		}
	}
}
