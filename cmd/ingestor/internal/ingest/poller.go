package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

// Intervals controls poll cadence. After a rate-limit response the poller uses
// Fallback until Cooldown has elapsed.
type Intervals struct {
	Poll     time.Duration
	Fallback time.Duration
	Cooldown time.Duration
}

// Poller polls a Quoter for every symbol and writes the ticks to Kafka keyed by symbol.
type Poller struct {
	logger      *zap.Logger
	quoter      Quoter
	writer      KafkaWriter
	symbols     []string
	intervals   Intervals
	clock       Clock
	seqCounters map[string]int64

	degradedUntil time.Time
}

func NewPoller(logger *zap.Logger, quoter Quoter, writer KafkaWriter, symbols []string, intervals Intervals, clock Clock) *Poller {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = models.NormalizeSymbol(s); s != "" {
			normalized = append(normalized, s)
		}
	}
	return &Poller{
		logger:      logger,
		quoter:      quoter,
		writer:      writer,
		symbols:     normalized,
		intervals:   intervals,
		clock:       clock,
		seqCounters: make(map[string]int64),
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poller Started", zap.Strings("symbols", p.symbols), zap.Duration("interval", p.intervals.Poll))

	if len(p.symbols) == 0 {
		p.logger.Warn("No symbols configured, poller idle")
		<-ctx.Done()
		return
	}

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("Poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.Interval()):
		}
	}
}

// Degraded reports whether the poller is backing off after a rate limit.
func (p *Poller) Degraded() bool {
	return p.clock.Now().Before(p.degradedUntil)
}

// Interval is the wait before the next poll.
func (p *Poller) Interval() time.Duration {
	if p.Degraded() {
		return p.intervals.Fallback
	}
	return p.intervals.Poll
}

// nextSeq is clock-seeded so a restarted poller keeps going above the SeqIDs
// consumers have already seen, and stays strictly increasing within a run.
func (p *Poller) nextSeq(symbol string, now int64) int64 {
	seq := now
	if last := p.seqCounters[symbol]; seq <= last {
		seq = last + 1
	}
	p.seqCounters[symbol] = seq
	return seq
}

// PollOnce quotes every symbol once and writes the resulting ticks. A
// rate-limit response ends the round early and starts the cool-down.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	msgs := make([]kafka.Message, 0, len(p.symbols))

	for _, symbol := range p.symbols {
		price, err := p.quoter.Quote(ctx, symbol)
		if errors.Is(err, ErrRateLimited) {
			metrics.RateLimited.Inc()
			if !p.Degraded() {
				p.logger.Warn("Rate limited, switching to fallback interval",
					zap.Duration("fallback", p.intervals.Fallback), zap.Duration("cooldown", p.intervals.Cooldown))
			}
			p.degradedUntil = p.clock.Now().Add(p.intervals.Cooldown)
			break
		}
		if err != nil {
			p.logger.Warn("Quote failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		now := p.clock.Now().UnixMicro()
		update := models.StockUpdate{
			Symbol:    symbol,
			Price:     price,
			Timestamp: now,
			SeqID:     p.nextSeq(symbol, now),
		}

		payload, err := json.Marshal(update)
		if err != nil {
			p.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(symbol), // Key ensures partition ordering
			Value: payload,
		})
	}

	if len(msgs) == 0 {
		return 0, nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	p.logger.Debug("Sent updates", zap.Int("count", len(msgs)))
	return len(msgs), nil
}
