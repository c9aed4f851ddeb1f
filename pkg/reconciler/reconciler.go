// Package reconciler keeps a client-side mirror of a server-side change-feed table.
//
// A Reconciler seeds its items from a full fetch, then applies the incremental
// Insert/Update/Delete stream. When the stream ends the last-known items are kept
// and the state becomes Disconnected; reconnecting is the caller's decision
// (see Supervise).
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/metrics"
)

var (
	ErrClosed = errors.New("reconciler closed")
	// ErrSuperseded is returned by a Connect whose result was discarded because
	// the reconciler was closed or reconnected while it was in flight.
	ErrSuperseded = errors.New("connect superseded")
)

type State int

const (
	Connecting State = iota
	Subscribed
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Subscription is a live change stream owned by exactly one reconciler.
type Subscription[T Entity] interface {
	// Events is closed when the stream ends.
	Events() <-chan Event[T]
	// Err reports why the stream ended; nil after a clean close.
	Err() error
	// Close unsubscribes. Calling it more than once is safe.
	Close() error
}

// Source is the server side of one table: a one-shot fetch plus a change stream.
type Source[T Entity] interface {
	Fetch(ctx context.Context) ([]T, error)
	// Subscribe returns once the stream has confirmed the subscription.
	Subscribe(ctx context.Context) (Subscription[T], error)
}

// Observer receives every applied event. It runs on its own goroutine.
type Observer[T Entity] func(Event[T])

const observerBuffer = 256

type Reconciler[T Entity] struct {
	name   string
	source Source[T]
	logger *zap.Logger

	mu            sync.RWMutex
	state         State
	items         *Collection[T]
	sub           Subscription[T]
	gen           uint64
	closed        bool
	cancelConnect context.CancelFunc

	observed chan Event[T]
	done     chan struct{}
}

type Option[T Entity] func(*Reconciler[T])

// WithObserver registers a callback for applied events. Events are handed off through a
// bounded buffer; when the observer falls behind, events for it are dropped.
func WithObserver[T Entity](fn Observer[T]) Option[T] {
	return func(r *Reconciler[T]) {
		if fn == nil {
			return
		}
		r.observed = make(chan Event[T], observerBuffer)
		go func() {
			for {
				select {
				case ev := <-r.observed:
					fn(ev)
				case <-r.done:
					return
				}
			}
		}()
	}
}

// New builds a reconciler for the named table. It starts in Connecting with no items;
// call Connect to seed and subscribe.
func New[T Entity](name string, source Source[T], logger *zap.Logger, opts ...Option[T]) *Reconciler[T] {
	r := &Reconciler[T]{
		name:   name,
		source: source,
		logger: logger.With(zap.String("table", name)),
		state:  Connecting,
		items:  NewCollection[T](),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect (re)enters Connecting: full fetch, seed, subscribe. On success the state is
// Subscribed and events are applied in the background until the stream ends.
func (r *Reconciler[T]) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return ErrClosed
	}
	r.gen++
	gen := r.gen
	if r.cancelConnect != nil {
		r.cancelConnect()
	}
	r.cancelConnect = cancel
	old := r.sub
	r.sub = nil
	r.state = Connecting
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("Failed to close previous subscription", zap.Error(err))
		}
	}

	seed, err := r.source.Fetch(ctx)

	r.mu.Lock()
	if r.closed || r.gen != gen {
		r.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		r.state = Disconnected
		r.mu.Unlock()
		return fmt.Errorf("fetch %s: %w", r.name, err)
	}
	r.items.Reset(seed)
	r.mu.Unlock()

	sub, err := r.source.Subscribe(ctx)

	r.mu.Lock()
	if r.closed || r.gen != gen {
		r.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		r.state = Disconnected
		r.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", r.name, err)
	}
	r.sub = sub
	r.state = Subscribed
	r.mu.Unlock()

	r.logger.Info("Subscribed", zap.Int("items", len(seed)))
	go r.consume(gen, sub)
	return nil
}

func (r *Reconciler[T]) consume(gen uint64, sub Subscription[T]) {
	for ev := range sub.Events() {
		if !r.apply(gen, ev) {
			return
		}
	}

	r.mu.Lock()
	current := !r.closed && r.gen == gen
	if current {
		r.state = Disconnected
		r.sub = nil
	}
	r.mu.Unlock()

	if current {
		r.logger.Warn("Change stream ended, keeping last known items", zap.Error(sub.Err()))
	}
}

func (r *Reconciler[T]) apply(gen uint64, ev Event[T]) bool {
	r.mu.Lock()
	if r.closed || r.gen != gen {
		r.mu.Unlock()
		return false
	}
	r.items.Apply(ev)
	r.mu.Unlock()

	metrics.ReconcilerEvents.WithLabelValues(r.name, string(ev.Type)).Inc()

	if r.observed != nil {
		select {
		case r.observed <- ev:
		default:
			r.logger.Debug("Observer lagging, dropping event", zap.String("key", ev.key()))
		}
	}
	return true
}

// Close tears the reconciler down from any state. The current subscription is closed
// before Close returns and any in-flight Connect result is discarded. Items are kept.
func (r *Reconciler[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.gen++
	if r.cancelConnect != nil {
		r.cancelConnect()
		r.cancelConnect = nil
	}
	sub := r.sub
	r.sub = nil
	r.state = Disconnected
	close(r.done)
	r.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (r *Reconciler[T]) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Items returns the current entries in insertion order.
func (r *Reconciler[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items.Items()
}

func (r *Reconciler[T]) Get(key string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items.Get(key)
}

func (r *Reconciler[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items.Len()
}
