// Package feedclient connects reconcilers to the gateway: an HTTP full fetch and a
// websocket change stream per table.
package feedclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shubham-shewale/market-alerts/pkg/models"
	"github.com/shubham-shewale/market-alerts/pkg/reconciler"
)

const (
	eventBuffer = 64
	ackTimeout  = 5 * time.Second
)

// wire types mirror the gateway protocol
type request struct {
	Action  string         `json:"action"`
	Payload requestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type requestPayload struct {
	Table string   `json:"table"`
	Keys  []string `json:"keys"`
}

type response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Table is one gateway table filtered to keys. It implements reconciler.Source.
type Table[T reconciler.Entity] struct {
	baseURL string
	table   string
	keys    []string
	http    *http.Client
	dialer  *websocket.Dialer
}

var _ reconciler.Source[models.Quote] = (*Table[models.Quote])(nil)

// NewTable targets table on the gateway at baseURL (http:// or https://).
func NewTable[T reconciler.Entity](baseURL, table string, keys []string) *Table[T] {
	return &Table[T]{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		table:   table,
		keys:    keys,
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer:  websocket.DefaultDialer,
	}
}

func (t *Table[T]) Fetch(ctx context.Context) ([]T, error) {
	q := url.Values{"table": {t.table}, "keys": {strings.Join(t.keys, ",")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/fetch?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", t.table, resp.StatusCode)
	}

	var rows []T
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rows, nil
}

func (t *Table[T]) wsURL() string {
	u := t.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Subscribe opens a dedicated websocket and returns once the gateway acks the subscription.
func (t *Table[T]) Subscribe(ctx context.Context) (reconciler.Subscription[T], error) {
	conn, _, err := t.dialer.DialContext(ctx, t.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	// Until the ack arrives the connection belongs to ctx: cancelling it drops the
	// socket so the gateway never keeps a subscription nobody owns.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	if err := t.awaitAck(conn); err != nil {
		stop()
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("subscribe %s: %w", t.table, ctx.Err())
		}
		return nil, err
	}
	if !stop() {
		return nil, fmt.Errorf("subscribe %s: %w", t.table, ctx.Err())
	}

	s := &subscription[T]{
		conn:   conn,
		events: make(chan reconciler.Event[T], eventBuffer),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (t *Table[T]) awaitAck(conn *websocket.Conn) error {
	id := uuid.New().String()
	req := request{Action: "subscribe", Payload: requestPayload{Table: t.table, Keys: t.keys}, ID: id}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(ackTimeout))
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("await subscribe ack: %w", err)
		}
		if resp.ID != id {
			continue
		}
		if resp.Type != "ack" {
			return fmt.Errorf("subscribe %s rejected: %s", t.table, resp.Message)
		}
		break
	}
	conn.SetReadDeadline(time.Time{})
	return nil
}

type subscription[T reconciler.Entity] struct {
	conn   *websocket.Conn
	events chan reconciler.Event[T]
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *subscription[T]) Events() <-chan reconciler.Event[T] { return s.events }

func (s *subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription[T]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *subscription[T]) readLoop() {
	defer close(s.events)

	for {
		var resp response
		if err := s.conn.ReadJSON(&resp); err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		if resp.Type != "change" {
			continue
		}

		ev, err := decodeChange[T](resp.Data)
		if err != nil {
			// one undecodable change is dropped, not fatal to the stream
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func decodeChange[T reconciler.Entity](raw json.RawMessage) (reconciler.Event[T], error) {
	var change models.Change
	if err := json.Unmarshal(raw, &change); err != nil {
		return reconciler.Event[T]{}, fmt.Errorf("decode change: %w", err)
	}

	ev := reconciler.Event[T]{Type: reconciler.EventType(change.Type), Key: change.Key}
	switch ev.Type {
	case reconciler.Insert, reconciler.Update, reconciler.Delete:
	default:
		return ev, fmt.Errorf("unknown change type %q", change.Type)
	}
	if len(change.Entity) > 0 {
		if err := json.Unmarshal(change.Entity, &ev.Entity); err != nil {
			return ev, fmt.Errorf("decode entity: %w", err)
		}
	} else if ev.Type != reconciler.Delete {
		return ev, errors.New("change without entity")
	}
	if len(change.Previous) > 0 {
		var prev T
		if err := json.Unmarshal(change.Previous, &prev); err == nil {
			ev.Previous = &prev
		}
	}
	return ev, nil
}
