// Package store holds the snapshot, alert and watchlist stores.
//
// Every alert mutation is a status-guarded write: the row changes only if its
// status still matches the expected one, and the caller learns how many rows changed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

var ErrNotFound = errors.New("not found")

// SnapshotStore keeps the two latest observations per symbol.
type SnapshotStore interface {
	Append(ctx context.Context, obs models.PriceObservation) error
	Latest(ctx context.Context, symbol string, n int) ([]models.PriceObservation, error)
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	Quotes(ctx context.Context, symbols []string) ([]models.Quote, error)
}

type AlertStore interface {
	Insert(ctx context.Context, a models.Alert) error
	Get(ctx context.Context, id string) (models.Alert, error)
	ListActive(ctx context.Context) ([]models.Alert, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Alert, error)
	// Transition moves id from expected to next and returns the number of rows changed (0 or 1).
	Transition(ctx context.Context, id string, expected, next models.AlertStatus, at time.Time) (int64, error)
	// ExpireDue moves every active alert with expiresAt < now to expired and returns their ids.
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

type WatchlistStore interface {
	Add(ctx context.Context, e models.WatchlistEntry) (bool, error)
	Remove(ctx context.Context, e models.WatchlistEntry) (bool, error)
	List(ctx context.Context, userID string) ([]models.WatchlistEntry, error)
}

// Publisher emits change-feed notifications.
type Publisher interface {
	Publish(ctx context.Context, table, partition string, typ models.ChangeType, key string, entity, previous any) error
}
