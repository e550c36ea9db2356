package cache

import (
	"context"
	"sync"

	"pipesync/internal/change"
)

// Watch is the channel form of Subscribe. Events are queued without bound so
// a slow reader never loses one; the channel is closed when ctx is done or
// the cache is closed. The replayed entries are queued before Watch returns.
func (c *EntityCache[K, V]) Watch(ctx context.Context, opts ...SubscribeOption) (<-chan change.Event[K, V], error) {
	q := &eventQueue[K, V]{notify: make(chan struct{}, 1)}
	sub, err := c.Subscribe(q.push, opts...)
	if err != nil {
		return nil, err
	}

	out := make(chan change.Event[K, V])
	go func() {
		defer close(out)
		defer sub.Cancel()
		for {
			ev, ok := q.pop(ctx, sub.Done())
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			}
		}
	}()
	return out, nil
}

type eventQueue[K comparable, V any] struct {
	mu     sync.Mutex
	items  []change.Event[K, V]
	notify chan struct{}
}

func (q *eventQueue[K, V]) push(ev change.Event[K, V]) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue[K, V]) pop(ctx context.Context, done <-chan struct{}) (change.Event[K, V], bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = change.Event[K, V]{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return change.Event[K, V]{}, false
		case <-done:
			return change.Event[K, V]{}, false
		}
	}
}
