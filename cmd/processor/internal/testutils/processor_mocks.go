package testutils

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// Returning DeadlineExceeded is a clean way to stop the processor loop in tests
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// MockSnapshotWriter records appended observations. FailSymbol makes Append fail for one symbol.
type MockSnapshotWriter struct {
	Appended   []models.PriceObservation
	FailSymbol string
	Mu         sync.Mutex
}

func (m *MockSnapshotWriter) Append(ctx context.Context, obs models.PriceObservation) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if obs.Symbol == m.FailSymbol {
		return errors.New("append failed")
	}
	m.Appended = append(m.Appended, obs)
	return nil
}

func (m *MockSnapshotWriter) Count(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for _, o := range m.Appended {
		if o.Symbol == symbol {
			n++
		}
	}
	return n
}
