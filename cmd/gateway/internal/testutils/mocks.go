package testutils

import (
	"context"
	"sync"
	"testing"

	"github.com/shubham-shewale/market-alerts/cmd/gateway/internal/protocol"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	// If it's a response, store it
	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// MockChangeStore simulates Redis
type MockChangeStore struct {
	SubscribedChannels map[string]int // channel -> count
	Rows               map[string]interface{}
	FetchErr           error
	LastFetch          []string
	Mu                 sync.Mutex
}

func NewMockStore() *MockChangeStore {
	return &MockChangeStore{
		SubscribedChannels: make(map[string]int),
		Rows:               make(map[string]interface{}),
	}
}

func (m *MockChangeStore) Fetch(ctx context.Context, table string, keys []string) (interface{}, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.LastFetch = append([]string(nil), keys...)
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	if rows, ok := m.Rows[table]; ok {
		return rows, nil
	}
	return []interface{}{}, nil
}

func (m *MockChangeStore) SubscribeToFeed(ctx context.Context, channel string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[channel]++
	return nil
}

func (m *MockChangeStore) UnsubscribeFromFeed(ctx context.Context, channel string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[channel]--
	if m.SubscribedChannels[channel] <= 0 {
		delete(m.SubscribedChannels, channel)
	}
	return nil
}

func (m *MockChangeStore) Count(channel string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.SubscribedChannels[channel]
}

func (m *MockChangeStore) RunPubSub(ctx context.Context, onMessage func(channel string, payload string)) {
	// No-op for unit tests
}

func (m *MockChangeStore) Close() error { return nil }

func AssertTrue(t *testing.T, condition bool, msg string) {
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}
