package models

import (
	"time"

	"github.com/google/uuid"
)

type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertTriggered AlertStatus = "triggered"
	AlertExpired   AlertStatus = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s AlertStatus) Terminal() bool {
	return s == AlertTriggered || s == AlertExpired
}

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertActive, AlertTriggered, AlertExpired:
		return true
	}
	return false
}

// Alert is a user-defined trigger condition on one symbol.
// Condition is kept as the raw text the user typed, e.g. "price > 150".
type Alert struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Symbol      string      `json:"symbol"`
	Condition   string      `json:"condition"`
	Status      AlertStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	TriggeredAt *time.Time  `json:"triggered_at,omitempty"`
}

func NewAlert(ownerID, symbol, condition string, now time.Time, expiresAt *time.Time) Alert {
	now = now.UTC()
	if expiresAt != nil {
		t := expiresAt.UTC()
		expiresAt = &t
	}
	return Alert{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Symbol:    NormalizeSymbol(symbol),
		Condition: condition,
		Status:    AlertActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
	}
}

func (a Alert) EntityKey() string { return a.ID }

// ExpiredAt reports whether the alert's expiry lies strictly before now.
func (a Alert) ExpiredAt(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// WatchlistEntry joins a user to a symbol they follow.
type WatchlistEntry struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
}

func (w WatchlistEntry) EntityKey() string { return w.UserID + ":" + w.Symbol }
