package models

import "encoding/json"

// Change feed tables
const (
	TablePrices    = "prices"
	TableAlerts    = "alerts"
	TableWatchlist = "watchlist"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one mutation notification on a change-feed table.
// Key is the entity id; Entity is empty for deletes.
type Change struct {
	Table    string          `json:"table"`
	Type     ChangeType      `json:"type"`
	Key      string          `json:"key"`
	Entity   json.RawMessage `json:"entity,omitempty"`
	Previous json.RawMessage `json:"previous,omitempty"`
}

// ChangeChannel is the pub/sub channel carrying changes of table scoped to partition
// (symbol for prices, owner for alerts, user for watchlists).
func ChangeChannel(table, partition string) string {
	return "changes." + table + "." + partition
}
