package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/cmd/ingestor/internal/ingest"
	"github.com/shubham-shewale/market-alerts/cmd/ingestor/internal/testutils"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

var intervals = ingest.Intervals{Poll: time.Second, Fallback: time.Minute, Cooldown: 5 * time.Minute}

func TestRandomQuoter_Logic(t *testing.T) {
	// (0.5 * 10) - 5 = 0 fluctuation, so the price equals the base price
	q := ingest.NewRandomQuoter(&testutils.MockRand{ValFloat: 0.5}, map[string]float64{"aapl": 100.0})

	price, err := q.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected Price 100, got %s", price)
	}

	if _, err := q.Quote(context.Background(), "MSFT"); err == nil {
		t.Error("Expected error for symbol without base price")
	}
}

func TestHTTPQuoter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			w.Write([]byte(`{"c": 187.42, "t": 1700000000}`))
		case "SLOW":
			w.WriteHeader(http.StatusTooManyRequests)
		case "NONE":
			w.Write([]byte(`{"c": 0}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	q := ingest.NewHTTPQuoter(srv.URL+"/", "secret", time.Second)
	ctx := context.Background()

	price, err := q.Quote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("187.42")) {
		t.Errorf("Expected 187.42, got %s", price)
	}

	if _, err := q.Quote(ctx, "SLOW"); !errors.Is(err, ingest.ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited on 429, got %v", err)
	}
	if _, err := q.Quote(ctx, "NONE"); err == nil {
		t.Error("Expected error for zero price")
	}
	if _, err := q.Quote(ctx, "BOOM"); err == nil || errors.Is(err, ingest.ErrRateLimited) {
		t.Errorf("Expected plain error on 500, got %v", err)
	}
}

func TestPoller_PollOnce(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	clock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}
	quoter := &testutils.MockQuoter{Prices: map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(100),
		"TSLA": decimal.NewFromInt(200),
	}}

	p := ingest.NewPoller(zap.NewNop(), quoter, writer, []string{" aapl", "TSLA", "NOPE"}, intervals, clock)

	for i := 0; i < 2; i++ {
		n, err := p.PollOnce(context.Background())
		if err != nil {
			t.Fatalf("PollOnce failed: %v", err)
		}
		if n != 2 {
			t.Errorf("Expected 2 ticks per round, got %d", n)
		}
	}

	writer.Mu.Lock()
	defer writer.Mu.Unlock()
	if len(writer.Messages) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(writer.Messages))
	}

	var last models.StockUpdate
	if err := json.Unmarshal(writer.Messages[2].Value, &last); err != nil {
		t.Fatalf("Generated invalid JSON: %v", err)
	}
	if last.Symbol != "AAPL" || string(writer.Messages[2].Key) != "AAPL" {
		t.Errorf("Expected AAPL keyed message, got %s", last.Symbol)
	}
	if last.SeqID != 2 {
		t.Errorf("Expected SeqID 2 on second round, got %d", last.SeqID)
	}
	if !last.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected price 100, got %s", last.Price)
	}
}

func lastUpdate(t *testing.T, w *testutils.MockKafkaWriter) models.StockUpdate {
	t.Helper()
	w.Mu.Lock()
	defer w.Mu.Unlock()
	var u models.StockUpdate
	if err := json.Unmarshal(w.Messages[len(w.Messages)-1].Value, &u); err != nil {
		t.Fatalf("Generated invalid JSON: %v", err)
	}
	return u
}

func TestPoller_RestartContinuesSeqID(t *testing.T) {
	clock := &testutils.MockClock{CurrentTime: time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)}
	quoter := &testutils.MockQuoter{Prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}}

	first := &testutils.MockKafkaWriter{}
	p := ingest.NewPoller(zap.NewNop(), quoter, first, []string{"AAPL"}, intervals, clock)
	for i := 0; i < 3; i++ {
		if _, err := p.PollOnce(context.Background()); err != nil {
			t.Fatalf("PollOnce failed: %v", err)
		}
	}
	before := lastUpdate(t, first)

	// a fresh poller after a restart must not fall back below what consumers saw
	clock.Advance(time.Second)
	second := &testutils.MockKafkaWriter{}
	restarted := ingest.NewPoller(zap.NewNop(), quoter, second, []string{"AAPL"}, intervals, clock)
	if _, err := restarted.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	after := lastUpdate(t, second)

	if after.SeqID <= before.SeqID {
		t.Errorf("Expected SeqID above %d after restart, got %d", before.SeqID, after.SeqID)
	}
}

func TestPoller_RateLimitFallback(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	clock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}
	quoter := &testutils.MockQuoter{
		Prices:      map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100), "TSLA": decimal.NewFromInt(200)},
		RateLimited: map[string]bool{"AAPL": true},
	}

	p := ingest.NewPoller(zap.NewNop(), quoter, writer, []string{"AAPL", "TSLA"}, intervals, clock)

	if p.Interval() != time.Second {
		t.Fatalf("Expected normal interval before any rate limit")
	}

	n, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("A rate limit should end the round, got %d ticks", n)
	}
	if len(quoter.Calls) != 1 {
		t.Errorf("TSLA should not be requested after a rate limit, calls=%v", quoter.Calls)
	}
	if !p.Degraded() || p.Interval() != time.Minute {
		t.Errorf("Expected fallback interval after rate limit, got %s", p.Interval())
	}

	quoter.RateLimited = nil
	clock.Advance(4 * time.Minute)
	if p.Interval() != time.Minute {
		t.Errorf("Still inside cooldown, expected fallback interval")
	}

	clock.Advance(time.Minute + time.Second)
	if p.Degraded() || p.Interval() != time.Second {
		t.Errorf("Cooldown elapsed, expected normal interval, got %s", p.Interval())
	}
}

func TestPoller_WriteFailure(t *testing.T) {
	writer := &testutils.MockKafkaWriter{ShouldFail: true}
	clock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}
	quoter := &testutils.MockQuoter{Prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(1)}}

	p := ingest.NewPoller(zap.NewNop(), quoter, writer, []string{"AAPL"}, intervals, clock)

	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Error("Expected Kafka write error to surface")
	}
}

func TestPoller_RunSleepsInterval(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	clock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}
	quoter := &testutils.MockQuoter{Prices: map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(1)}}

	p := ingest.NewPoller(zap.NewNop(), quoter, writer, []string{"AAPL"}, intervals, clock)

	// MockClock.Sleep advances time instantly, so cancel quickly
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if writer.Count() == 0 {
		t.Fatal("Expected messages to be produced")
	}
	clock.Mu.Lock()
	defer clock.Mu.Unlock()
	if len(clock.Slept) == 0 || clock.Slept[0] != time.Second {
		t.Errorf("Expected poll interval sleeps, got %v", clock.Slept)
	}
}

func TestTopicCreator_Flow(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{} // Will auto-create ConnSpy
	mockClock := &testutils.MockClock{}

	tc := ingest.NewTopicCreator(zap.NewNop(), mockDialer, mockClock, 4)

	tc.Create([]string{"broker:9092"}, "ticks", "alerts", "")

	if mockDialer.ConnSpy == nil {
		t.Fatal("Dialer was never called")
	}
	created := mockDialer.ConnSpy.CreatedTopics
	if len(created) != 2 || created[0] != "ticks" || created[1] != "alerts" {
		t.Errorf("Expected topics [ticks alerts], got %v", created)
	}
	if mockDialer.ConnSpy.Partitions[0] != 4 {
		t.Errorf("Expected 4 partitions, got %d", mockDialer.ConnSpy.Partitions[0])
	}
}

func TestTopicCreator_NoBroker(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{Fail: true}

	tc := ingest.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{}, 1)
	tc.Create([]string{"a:9092", "b:9092"}, "ticks")

	if mockDialer.ConnSpy != nil {
		t.Error("No connection should have been made")
	}
}
