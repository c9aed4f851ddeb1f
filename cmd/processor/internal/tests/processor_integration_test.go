package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/cmd/processor/internal/processor"
	"github.com/shubham-shewale/market-alerts/cmd/processor/internal/testutils"
	"github.com/shubham-shewale/market-alerts/pkg/config"
	"github.com/shubham-shewale/market-alerts/pkg/models"
	"github.com/shubham-shewale/market-alerts/pkg/store"
)

func TestProcessor_EndToEnd_Flow(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	snapshots := store.NewRedisSnapshotStore(rdb, store.NewRedisPublisher(rdb))

	sub := rdb.Subscribe(context.Background(), models.ChangeChannel(models.TablePrices, "GOOG"))
	defer sub.Close()
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	now := time.Now()
	var msgs []kafka.Message
	for i, price := range []string{"1500.50", "1502.25"} {
		update := models.StockUpdate{
			Symbol:    "GOOG",
			Price:     decimal.RequireFromString(price),
			Timestamp: now.Add(time.Duration(i) * time.Second).UnixMicro(),
			SeqID:     int64(100 + i),
		}
		val, _ := json.Marshal(update)
		msgs = append(msgs, kafka.Message{Key: []byte("GOOG"), Value: val})
	}
	// Use Mock Reader because spinning up real Kafka is heavy/complex for unit tests
	mockReader := &testutils.MockKafkaReader{Messages: msgs}

	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 1

	proc := processor.NewProcessor(cfg, zap.NewNop(), snapshots, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	// Poll until both ticks are in (the processor is async)
	var quote models.Quote
	success := false
	for i := 0; i < 20; i++ {
		q, err := snapshots.Quote(context.Background(), "GOOG")
		if err == nil && q.Previous != nil {
			quote, success = q, true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !success {
		t.Fatal("Processor did not store two GOOG observations")
	}

	if !quote.Current.Price.Equal(decimal.RequireFromString("1502.25")) {
		t.Errorf("Current price mismatch: %s", quote.Current.Price)
	}
	if !quote.Previous.Price.Equal(decimal.RequireFromString("1500.50")) {
		t.Errorf("Previous price mismatch: %s", quote.Previous.Price)
	}
	if !mr.Exists("stock:GOOG") {
		t.Error("Latest snapshot key stock:GOOG missing")
	}

	var first models.Change
	msg, err := sub.ReceiveMessage(context.Background())
	if err != nil {
		t.Fatalf("no change published: %v", err)
	}
	if err := json.Unmarshal([]byte(msg.Payload), &first); err != nil {
		t.Fatalf("bad change payload: %v", err)
	}
	if first.Type != models.ChangeInsert || first.Key != "GOOG" {
		t.Errorf("First change should insert GOOG, got %s %s", first.Type, first.Key)
	}

	cancel()
	<-done
}
