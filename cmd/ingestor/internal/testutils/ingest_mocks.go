package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/market-alerts/cmd/ingestor/internal/ingest"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

func (m *MockKafkaWriter) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

type MockClock struct {
	CurrentTime time.Time
	Slept       []time.Duration
	Mu          sync.Mutex
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Sleep(d time.Duration) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Slept = append(m.Slept, d)
	m.CurrentTime = m.CurrentTime.Add(d)
}

// After advances the clock by d and fires immediately.
func (m *MockClock) After(d time.Duration) <-chan time.Time {
	m.Sleep(d)
	ch := make(chan time.Time, 1)
	ch <- m.Now()
	return ch
}

func (m *MockClock) Advance(d time.Duration) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}

type MockRand struct {
	ValFloat float64
}

func (m *MockRand) Float64() float64 { return m.ValFloat }

// MockQuoter answers from Prices; symbols in RateLimited get ingest.ErrRateLimited.
type MockQuoter struct {
	Prices      map[string]decimal.Decimal
	RateLimited map[string]bool
	Calls       []string
	Mu          sync.Mutex
}

func (m *MockQuoter) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls = append(m.Calls, symbol)
	if m.RateLimited[symbol] {
		return decimal.Zero, ingest.ErrRateLimited
	}
	p, ok := m.Prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

type MockKafkaConn struct {
	CreatedTopics []string
	Partitions    []int
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
		m.Partitions = append(m.Partitions, t.NumPartitions)
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	// Simulate "Ready" state immediately
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
	Fail    bool
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (ingest.KafkaConn, error) {
	if m.Fail {
		return nil, errors.New("dial failed")
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}
