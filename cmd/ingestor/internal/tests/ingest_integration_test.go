package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/cmd/ingestor/internal/ingest"
	"github.com/shubham-shewale/market-alerts/cmd/ingestor/internal/testutils"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

func TestPoller_ComponentWiring(t *testing.T) {
	// Simulates the main loop with the real random quoter and a fake output
	mockWriter := &testutils.MockKafkaWriter{}
	mockClock := &testutils.MockClock{CurrentTime: time.Now()}

	basePrices := map[string]float64{"MSFT": 300.0, "GOOG": 2000.0}
	quoter := ingest.NewRandomQuoter(ingest.NewRealRand(), basePrices)

	intervals := ingest.Intervals{Poll: 100 * time.Millisecond, Fallback: time.Second, Cooldown: time.Minute}
	p := ingest.NewPoller(zap.NewNop(), quoter, mockWriter, []string{"MSFT", "GOOG"}, intervals, mockClock)

	// Since MockClock.Sleep just advances time, the loop runs as fast as CPU allows
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond) // Let it generate a few
		cancel()
	}()

	p.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	if len(mockWriter.Messages) == 0 {
		t.Fatal("Poller failed to produce any messages in component test")
	}

	lastSeq := map[string]int64{}
	for _, msg := range mockWriter.Messages {
		var update models.StockUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			t.Fatalf("Invalid payload: %v", err)
		}
		base := basePrices[update.Symbol]
		f, _ := update.Price.Float64()
		if f < base-5 || f > base+5 {
			t.Errorf("%s price %s outside ±5 of base", update.Symbol, update.Price)
		}
		if update.SeqID <= lastSeq[update.Symbol] {
			t.Errorf("%s SeqID %d not increasing after %d", update.Symbol, update.SeqID, lastSeq[update.Symbol])
		}
		lastSeq[update.Symbol] = update.SeqID
	}
}
