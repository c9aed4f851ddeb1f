package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StockUpdate represents a single market tick for a stock symbol as it travels over Kafka
type StockUpdate struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // unix micro
	SeqID     int64           `json:"seq_id"`    // per symbol, clock-seeded, strictly increasing
}

// Observation converts the tick into the immutable form kept by the snapshot store.
func (u StockUpdate) Observation() PriceObservation {
	return PriceObservation{
		Symbol:     NormalizeSymbol(u.Symbol),
		Price:      u.Price,
		ObservedAt: time.UnixMicro(u.Timestamp).UTC(),
	}
}

// PriceObservation is one recorded price. Observations are append-only.
type PriceObservation struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Quote is the "prices" row: the latest observation for a symbol and the one before it.
type Quote struct {
	Symbol   string            `json:"symbol"`
	Current  PriceObservation  `json:"current"`
	Previous *PriceObservation `json:"previous,omitempty"`
}

func (q Quote) EntityKey() string { return q.Symbol }

// NormalizeSymbol canonicalises a ticker to its uppercase identity form.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
