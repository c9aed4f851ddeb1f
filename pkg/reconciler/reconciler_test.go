package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSub struct {
	events chan Event[row]
	done   chan struct{}
	once   sync.Once
	closes atomic.Int32
	err    error
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan Event[row]), done: make(chan struct{})}
}

func (s *fakeSub) Events() <-chan Event[row] { return s.events }
func (s *fakeSub) Err() error                { return s.err }
func (s *fakeSub) Close() error {
	s.closes.Add(1)
	s.once.Do(func() { close(s.done) })
	return nil
}

// send delivers ev unless the subscription has been closed.
func (s *fakeSub) send(ev Event[row]) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// end simulates the server closing the stream.
func (s *fakeSub) end(err error) {
	s.err = err
	close(s.events)
}

type fakeSource struct {
	mu        sync.Mutex
	rows      []row
	fetchErr  error
	fetchGate chan struct{}
	subs      []*fakeSub
	fetches   int
}

func (f *fakeSource) Fetch(ctx context.Context) ([]row, error) {
	f.mu.Lock()
	f.fetches++
	gate := f.fetchGate
	rows := append([]row(nil), f.rows...)
	err := f.fetchErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return rows, err
}

func (f *fakeSource) Subscribe(ctx context.Context) (Subscription[row], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeSub()
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestReconciler_ConnectSeedsAndSubscribes(t *testing.T) {
	src := &fakeSource{rows: []row{{"a", 1}, {"b", 2}}}
	r := New[row]("rows", src, zap.NewNop())
	defer r.Close()

	if r.State() != Connecting {
		t.Errorf("Expected initial state connecting, got %s", r.State())
	}
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if r.State() != Subscribed {
		t.Errorf("Expected subscribed, got %s", r.State())
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 seeded items, got %d", r.Len())
	}
}

func TestReconciler_AppliesStreamEvents(t *testing.T) {
	src := &fakeSource{rows: []row{{"a", 1}}}
	r := New[row]("rows", src, zap.NewNop())
	defer r.Close()

	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := src.lastSub()
	sub.send(Event[row]{Type: Update, Entity: row{"missing", 7}})
	sub.send(Event[row]{Type: Insert, Entity: row{"b", 1}})
	sub.send(Event[row]{Type: Delete, Key: "a"})
	sub.send(Event[row]{Type: Delete, Key: "never-seen"})

	waitFor(t, func() bool {
		_, hasA := r.Get("a")
		_, hasMissing := r.Get("missing")
		return !hasA && hasMissing && r.Len() == 2
	}, "stream events were not applied")
}

func TestReconciler_StreamEndKeepsItems(t *testing.T) {
	src := &fakeSource{rows: []row{{"a", 1}}}
	r := New[row]("rows", src, zap.NewNop())
	defer r.Close()

	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.lastSub().end(errors.New("socket reset"))

	waitFor(t, func() bool { return r.State() == Disconnected }, "expected disconnected after stream end")
	if r.Len() != 1 {
		t.Errorf("Last-known-good items must be retained, got %d", r.Len())
	}
	time.Sleep(20 * time.Millisecond)
	if n := src.fetchCount(); n != 1 {
		t.Errorf("Reconciler must not retry on its own, saw %d fetches", n)
	}
}

func TestReconciler_FetchErrorDisconnects(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("boom")}
	r := New[row]("rows", src, zap.NewNop())
	defer r.Close()

	if err := r.Connect(context.Background()); err == nil {
		t.Fatal("Expected fetch error")
	}
	if r.State() != Disconnected {
		t.Errorf("Expected disconnected, got %s", r.State())
	}
}

func TestReconciler_ReconnectReseeds(t *testing.T) {
	src := &fakeSource{rows: []row{{"a", 1}}}
	r := New[row]("rows", src, zap.NewNop())
	defer r.Close()

	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := src.lastSub()

	src.mu.Lock()
	src.rows = []row{{"b", 1}, {"c", 1}}
	src.mu.Unlock()

	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if first.closes.Load() == 0 {
		t.Error("Reconnect should release the previous subscription")
	}
	if _, ok := r.Get("a"); ok || r.Len() != 2 {
		t.Errorf("Reconnect should rebuild items from the fetch, got %v", r.Items())
	}
}

func TestReconciler_CloseDuringFetchDiscardsResult(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{rows: []row{{"a", 1}}, fetchGate: gate}
	r := New[row]("rows", src, zap.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- r.Connect(context.Background()) }()

	waitFor(t, func() bool { return src.fetchCount() == 1 }, "fetch never started")

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	close(gate)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Expected ErrSuperseded, got %v", err)
	}
	if r.Len() != 0 {
		t.Error("Fetch result after Close must be discarded")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.subs) != 0 {
		t.Error("No subscription should be opened after Close")
	}
}

func TestReconciler_CloseUnsubscribesOnce(t *testing.T) {
	src := &fakeSource{}
	r := New[row]("rows", src, zap.NewNop())
	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := src.lastSub()

	r.Close()
	r.Close()

	if sub.closes.Load() != 1 {
		t.Errorf("Expected exactly one unsubscribe, got %d", sub.closes.Load())
	}
	if err := r.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close should fail with ErrClosed, got %v", err)
	}
}

func TestReconciler_ObserverDoesNotBlockUpdates(t *testing.T) {
	src := &fakeSource{}
	block := make(chan struct{})
	var seen atomic.Int32
	r := New[row]("rows", src, zap.NewNop(), WithObserver[row](func(ev Event[row]) {
		seen.Add(1)
		<-block
	}))
	defer r.Close()
	defer close(block)

	if err := r.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := src.lastSub()
	for i := 0; i < observerBuffer+10; i++ {
		sub.send(Event[row]{Type: Insert, Entity: row{ID: string(rune('a' + i%26)), Value: i}})
	}
	sub.send(Event[row]{Type: Insert, Entity: row{ID: "last"}})

	waitFor(t, func() bool {
		_, ok := r.Get("last")
		return ok
	}, "blocked observer stalled the state update")
	if seen.Load() == 0 {
		t.Error("Observer was never called")
	}
}

func TestSupervise_ZeroIntervalUsesDefault(t *testing.T) {
	src := &fakeSource{rows: []row{{"a", 1}}}
	r := New[row]("rows", src, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Supervise(ctx, r, 0, zap.NewNop())
		close(done)
	}()

	waitFor(t, func() bool { return r.State() == Subscribed }, "never subscribed")
	cancel()
	<-done
}

func TestSupervise_ReconnectsAfterDisconnect(t *testing.T) {
	src := &fakeSource{rows: []row{{"a", 1}}}
	r := New[row]("rows", src, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Supervise(ctx, r, 10*time.Millisecond, zap.NewNop())
		close(done)
	}()

	waitFor(t, func() bool { return r.State() == Subscribed }, "never subscribed")
	src.lastSub().end(nil)

	waitFor(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.subs) >= 2
	}, "supervisor did not reconnect")
	waitFor(t, func() bool { return r.State() == Subscribed }, "not resubscribed")

	cancel()
	<-done
	if r.State() != Disconnected {
		t.Errorf("Supervise should close the reconciler on exit, got %s", r.State())
	}
}
