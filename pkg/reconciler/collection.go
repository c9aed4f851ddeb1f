package reconciler

import "slices"

// Entity is anything with a stable identity inside its change-feed table.
type Entity interface {
	EntityKey() string
}

type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
)

// Event is one mutation delivered by a change feed. Key identifies the entity;
// when empty it is taken from Entity.
type Event[T Entity] struct {
	Type     EventType
	Key      string
	Entity   T
	Previous *T
}

func (e Event[T]) key() string {
	if e.Key != "" {
		return e.Key
	}
	return e.Entity.EntityKey()
}

// Collection is an insertion-ordered set of entities keyed by EntityKey.
// It never holds two entries with the same key.
type Collection[T Entity] struct {
	order []string
	items map[string]T
}

func NewCollection[T Entity]() *Collection[T] {
	return &Collection[T]{items: make(map[string]T)}
}

// Reset replaces the contents with seed. Later duplicates in seed win.
func (c *Collection[T]) Reset(seed []T) {
	c.order = c.order[:0]
	c.items = make(map[string]T, len(seed))
	for _, e := range seed {
		c.Upsert(e)
	}
}

// Upsert appends e or overwrites the entry with the same key in place.
func (c *Collection[T]) Upsert(e T) {
	k := e.EntityKey()
	if _, ok := c.items[k]; !ok {
		c.order = append(c.order, k)
	}
	c.items[k] = e
}

// Remove deletes key if present and reports whether it was.
func (c *Collection[T]) Remove(key string) bool {
	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	if i := slices.Index(c.order, key); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

// Apply folds one event into the collection. Updates for unknown keys are inserted,
// since the stream may have started mid-sequence; deletes of unknown keys are no-ops.
func (c *Collection[T]) Apply(ev Event[T]) {
	switch ev.Type {
	case Insert, Update:
		c.Upsert(ev.Entity)
	case Delete:
		c.Remove(ev.key())
	}
}

func (c *Collection[T]) Get(key string) (T, bool) {
	e, ok := c.items[key]
	return e, ok
}

func (c *Collection[T]) Len() int { return len(c.order) }

// Items returns a copy of the entries in insertion order.
func (c *Collection[T]) Items() []T {
	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}
