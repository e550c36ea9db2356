package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"pipesync/internal/change"
)

// Subscription is the handle returned by Subscribe.
type Subscription[K comparable, V any] struct {
	id       uint64
	cache    *EntityCache[K, V]
	observer Observer[K, V]

	mu        sync.Mutex
	cancelled atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Cancel detaches the observer. Once Cancel returns no new delivery starts.
// A delivery that another goroutine had already begun may still finish; it
// is done by the time the next Apply on the cache returns. Cancel may be
// called from inside the observer and more than once.
func (s *Subscription[K, V]) Cancel() {
	if s == nil {
		return
	}
	s.detach()
	s.cache.remove(s)
}

// Done is closed when the subscription is cancelled or its cache is closed.
func (s *Subscription[K, V]) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription[K, V]) detach() {
	s.cancelled.Store(true)
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscription[K, V]) deliver(ev change.Event[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverLocked(ev)
}

func (s *Subscription[K, V]) deliverLocked(ev change.Event[K, V]) {
	if s.cancelled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("entity cache observer panicked", "topic", s.cache.topic, "subscription", s.id, "kind", ev.Kind.String(), "panic", r)
		}
	}()
	s.observer(ev)
}
