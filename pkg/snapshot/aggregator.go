// Package snapshot derives display deltas from the two latest price observations of a symbol.
package snapshot

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

const DefaultStaleAfter = 120 * time.Second

var hundred = decimal.NewFromInt(100)

// Delta is the priced change between the latest observation and the one before it.
type Delta struct {
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	ChangeAbsolute decimal.Decimal `json:"change_absolute"`
	ChangePercent  decimal.Decimal `json:"change_percent"`
	IsStale        bool            `json:"is_stale"`
	ObservedAt     time.Time       `json:"observed_at"`
}

type Aggregator struct {
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*Aggregator)

// WithClock overrides the time source used for staleness.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator builds an aggregator; staleAfter <= 0 falls back to DefaultStaleAfter.
func NewAggregator(staleAfter time.Duration, opts ...Option) *Aggregator {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	a := &Aggregator{staleAfter: staleAfter, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate computes the delta of current against previous (which may be nil).
// Staleness is informational only.
func (a *Aggregator) Aggregate(current models.PriceObservation, previous *models.PriceObservation) Delta {
	d := Delta{
		Symbol:         current.Symbol,
		Price:          current.Price,
		ChangeAbsolute: decimal.Zero,
		ChangePercent:  decimal.Zero,
		ObservedAt:     current.ObservedAt,
		IsStale:        a.now().Sub(current.ObservedAt) > a.staleAfter,
	}
	if previous == nil {
		return d
	}
	d.ChangeAbsolute = current.Price.Sub(previous.Price)
	if !previous.Price.IsZero() {
		d.ChangePercent = d.ChangeAbsolute.Div(previous.Price).Mul(hundred)
	}
	return d
}

// AggregateQuote is Aggregate over a prices row.
func (a *Aggregator) AggregateQuote(q models.Quote) Delta {
	return a.Aggregate(q.Current, q.Previous)
}
