// Package cache keeps a keyed snapshot of server-side entities consistent with
// a stream of change events and fans every applied event out to observers.
package cache

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"pipesync/internal/change"
	"pipesync/internal/check"

	"github.com/containerd/errdefs"
)

// ErrClosed is returned by operations on a cache whose topic was torn down.
var ErrClosed = fmt.Errorf("entity cache closed: %w", errdefs.ErrFailedPrecondition)

// Observer receives events for one subscription. It runs outside the cache's
// map lock and may read, subscribe to or cancel subscriptions on the same
// cache. It must not call Apply on the same cache synchronously.
type Observer[K comparable, V any] func(change.Event[K, V])

// EntityCache holds the current value of every entity of one topic.
//
// Writes are serialized: an event is applied to the map and delivered to
// every observer registered before it, in registration order, before the
// next event is applied.
type EntityCache[K comparable, V any] struct {
	topic string

	writeMu sync.Mutex

	mu      sync.Mutex
	entries map[K]V
	subs    []*Subscription[K, V]
	nextID  uint64
	closed  bool
}

func New[K comparable, V any](topic string) *EntityCache[K, V] {
	return &EntityCache[K, V]{
		topic:   topic,
		entries: make(map[K]V),
	}
}

func (c *EntityCache[K, V]) Topic() string { return c.topic }

// Apply folds ev into the cache. Create and update overwrite the stored
// value; delete of an absent key is a no-op and is not forwarded. A
// malformed event is rejected without touching the map.
func (c *EntityCache[K, V]) Apply(ev change.Event[K, V]) error {
	if err := ev.Validate(); err != nil {
		slog.Warn("entity cache rejected event", "topic", c.topic, "kind", ev.Kind.String(), "err", err)
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch ev.Kind {
	case change.KindCreate, change.KindUpdate:
		c.entries[ev.ID] = ev.Value
	case change.KindDelete:
		if _, ok := c.entries[ev.ID]; !ok {
			c.mu.Unlock()
			slog.Debug("entity cache delete of unknown key", "topic", c.topic, "id", ev.ID)
			return nil
		}
		delete(c.entries, ev.ID)
	}
	subs := append([]*Subscription[K, V](nil), c.subs...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
	return nil
}

// Subscribe registers observer for future events. Before returning it
// delivers one create event per cached entry, so the observer converges to
// the current state without waiting for the next live event.
func (c *EntityCache[K, V]) Subscribe(observer Observer[K, V], opts ...SubscribeOption) (*Subscription[K, V], error) {
	check.Assert(observer != nil, "cache.Subscribe: observer must not be nil")
	if observer == nil {
		return nil, fmt.Errorf("subscribe %s: observer is required", c.topic)
	}
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &Subscription[K, V]{
		id:       c.nextID,
		cache:    c,
		observer: observer,
		done:     make(chan struct{}),
	}
	c.nextID++
	c.subs = append(c.subs, sub)

	// Holding the delivery lock across the hand-off keeps live events queued
	// behind the replay.
	sub.mu.Lock()
	replay := maps.Clone(c.entries)
	c.mu.Unlock()

	for id, value := range replay {
		sub.deliverLocked(change.Create(id, value))
	}
	if o.onReplayed != nil && !sub.cancelled.Load() {
		o.onReplayed(len(replay))
	}
	sub.mu.Unlock()

	slog.Debug("entity cache subscribed", "topic", c.topic, "subscription", sub.id, "replayed", len(replay))
	return sub, nil
}

// Snapshot returns a copy of the current entries.
func (c *EntityCache[K, V]) Snapshot() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		return map[K]V{}
	}
	return maps.Clone(c.entries)
}

func (c *EntityCache[K, V]) Get(id K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[id]
	return v, ok
}

func (c *EntityCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close detaches every observer and discards the entries.
func (c *EntityCache[K, V]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.entries = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.detach()
	}
	slog.Debug("entity cache closed", "topic", c.topic, "observers", len(subs))
}

func (c *EntityCache[K, V]) remove(sub *Subscription[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

type subscribeOptions struct {
	onReplayed func(n int)
}

// SubscribeOption customizes Subscribe.
type SubscribeOption func(*subscribeOptions)

// OnReplayed runs fn once the initial replay of n entries has been delivered
// and before any live event reaches the observer.
func OnReplayed(fn func(n int)) SubscribeOption {
	return func(o *subscribeOptions) { o.onReplayed = fn }
}
