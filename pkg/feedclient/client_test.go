package feedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/models"
	"github.com/shubham-shewale/market-alerts/pkg/reconciler"
)

// stubGateway answers /v1/fetch with rows and acks (or rejects) websocket
// subscriptions, then lets the test push frames.
type stubGateway struct {
	t      *testing.T
	rows   []models.Quote
	reject bool

	mu     sync.Mutex
	conns  []*websocket.Conn
	gotReq request
	query  string
	ready  chan struct{}
}

func newStubGateway(t *testing.T) (*stubGateway, *httptest.Server) {
	g := &stubGateway{t: t, ready: make(chan struct{}, 1)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/fetch", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.query = r.URL.RawQuery
		g.mu.Unlock()
		json.NewEncoder(w).Encode(g.rows)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			conn.Close()
			return
		}
		// unrelated frame before the ack must be ignored
		conn.WriteJSON(response{Type: "ack", ID: "someone-else"})
		if g.reject {
			conn.WriteJSON(response{Type: "error", ID: req.ID, Message: "No valid/new keys provided"})
		} else {
			conn.WriteJSON(response{Type: "ack", ID: req.ID, Status: "success"})
		}

		g.mu.Lock()
		g.gotReq = req
		g.conns = append(g.conns, conn)
		g.mu.Unlock()
		g.ready <- struct{}{}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		g.mu.Lock()
		for _, c := range g.conns {
			c.Close()
		}
		g.mu.Unlock()
		srv.Close()
	})
	return g, srv
}

func (g *stubGateway) push(change models.Change) {
	raw, _ := json.Marshal(change)
	g.pushRaw(raw)
}

func (g *stubGateway) pushRaw(raw json.RawMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn := g.conns[len(g.conns)-1]
	require.NoError(g.t, conn.WriteJSON(response{Type: "change", Data: raw}))
}

func quote(symbol string, price int64) models.Quote {
	return models.Quote{Symbol: symbol, Current: models.PriceObservation{
		Symbol: symbol, Price: decimal.NewFromInt(price), ObservedAt: time.Now().UTC(),
	}}
}

func nextEvent(t *testing.T, sub reconciler.Subscription[models.Quote]) reconciler.Event[models.Quote] {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return reconciler.Event[models.Quote]{}
}

func TestTable_Fetch(t *testing.T) {
	g, srv := newStubGateway(t)
	g.rows = []models.Quote{quote("AAPL", 150), quote("MSFT", 300)}

	rows, err := NewTable[models.Quote](srv.URL+"/", models.TablePrices, []string{"AAPL", "MSFT"}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "MSFT", rows[1].Symbol)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Contains(t, g.query, "table=prices")
	assert.Contains(t, g.query, "keys=AAPL%2CMSFT")
}

func TestTable_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewTable[models.Quote](srv.URL, models.TablePrices, nil).Fetch(context.Background())
	assert.Error(t, err)
}

func TestTable_SubscribeStreamsChanges(t *testing.T) {
	g, srv := newStubGateway(t)
	table := NewTable[models.Quote](srv.URL, models.TablePrices, []string{"AAPL"})

	sub, err := table.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()
	<-g.ready

	g.mu.Lock()
	assert.Equal(t, "subscribe", g.gotReq.Action)
	assert.Equal(t, models.TablePrices, g.gotReq.Payload.Table)
	assert.Equal(t, []string{"AAPL"}, g.gotReq.Payload.Keys)
	g.mu.Unlock()

	cur, _ := json.Marshal(quote("AAPL", 151))
	prev, _ := json.Marshal(quote("AAPL", 150))
	g.pushRaw(json.RawMessage(`{"table":"prices","type":"bogus","key":"AAPL"}`))
	g.push(models.Change{Table: models.TablePrices, Type: models.ChangeUpdate, Key: "AAPL", Entity: cur, Previous: prev})
	g.push(models.Change{Table: models.TablePrices, Type: models.ChangeDelete, Key: "AAPL"})

	ev := nextEvent(t, sub)
	assert.Equal(t, reconciler.Update, ev.Type)
	assert.True(t, ev.Entity.Current.Price.Equal(decimal.NewFromInt(151)))
	require.NotNil(t, ev.Previous)
	assert.True(t, ev.Previous.Current.Price.Equal(decimal.NewFromInt(150)))

	ev = nextEvent(t, sub)
	assert.Equal(t, reconciler.Delete, ev.Type)
	assert.Equal(t, "AAPL", ev.Key)
}

func TestTable_SubscribeRejected(t *testing.T) {
	g, srv := newStubGateway(t)
	g.reject = true

	_, err := NewTable[models.Quote](srv.URL, models.TablePrices, []string{"NOPE"}).Subscribe(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "rejected"))
}

func TestSubscription_ServerCloseEndsStream(t *testing.T) {
	g, srv := newStubGateway(t)

	sub, err := NewTable[models.Quote](srv.URL, models.TablePrices, []string{"AAPL"}).Subscribe(context.Background())
	require.NoError(t, err)
	<-g.ready

	g.mu.Lock()
	g.conns[0].Close()
	g.mu.Unlock()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
	assert.Error(t, sub.Err())
	assert.NoError(t, sub.Close())
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	g, srv := newStubGateway(t)

	sub, err := NewTable[models.Quote](srv.URL, models.TablePrices, []string{"AAPL"}).Subscribe(context.Background())
	require.NoError(t, err)
	<-g.ready

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after Close")
	}
	assert.NoError(t, sub.Err(), "a local close is not a stream error")
}

// silentGateway upgrades subscriptions but never answers them. closed receives
// once per connection when the client side goes away.
func silentGateway(t *testing.T) (*httptest.Server, <-chan struct{}, <-chan struct{}) {
	opened := make(chan struct{}, 4)
	closed := make(chan struct{}, 4)
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/fetch", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		opened <- struct{}{}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closed <- struct{}{}
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, opened, closed
}

func TestTable_SubscribeCancelledBeforeAck(t *testing.T) {
	srv, opened, closed := silentGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := NewTable[models.Quote](srv.URL, models.TablePrices, []string{"AAPL"}).Subscribe(ctx)
		errs <- err
	}()

	<-opened
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("gateway connection still open after cancel")
	}
}

func TestReconciler_CloseWhileAwaitingAck(t *testing.T) {
	srv, opened, closed := silentGateway(t)

	src := NewTable[models.Quote](srv.URL, models.TablePrices, []string{"AAPL"})
	r := reconciler.New[models.Quote](models.TablePrices, src, zap.NewNop())

	errs := make(chan error, 1)
	go func() { errs <- r.Connect(context.Background()) }()

	<-opened
	require.NoError(t, r.Close())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("gateway connection still open after Close")
	}
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, reconciler.ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("Connect did not return after Close")
	}
	assert.Equal(t, reconciler.Disconnected, r.State())
}

func TestTable_WSURL(t *testing.T) {
	assert.Equal(t, "ws://gw:8080/ws", NewTable[models.Quote]("http://gw:8080/", "prices", nil).wsURL())
	assert.Equal(t, "wss://gw/ws", NewTable[models.Quote]("https://gw", "prices", nil).wsURL())
}
